package main

// The sclient tool is an operator utility for poking a running stevedore
// server: submit fulfilment jobs, inspect them, and send synthetic publish
// events to force a cache invalidation.

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// various command line flags, with default values

var (
	server  = flag.String("server", "localhost:14010", "stevedore server to use")
	mode    = flag.String("mode", "standard", "dispatch mode (standard or scheduled)")
	wait    = flag.Bool("wait", false, "poll until the job leaves the received state")
	verbose = flag.Bool("v", false, "display more information")
	usage   = `
sclient <command> <command arguments>

Possible commands:

    submit <product> <edition> <update> [filesize]
    submitnames <product>...
    status <job id>
    jobs
    webhook <product> <edition> <update>

`
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Print(usage)
		os.Exit(1)
	}

	conn := &connection{Host: *server, Verbose: *verbose}

	switch args[0] {
	case "submit":
		if len(args) < 4 || len(args) > 5 {
			fmt.Println("Usage: sclient <flags> submit <product> <edition> <update> [filesize]")
			return
		}
		doSubmit(conn, args[1:])
	case "submitnames":
		if len(args) < 2 {
			fmt.Println("Usage: sclient <flags> submitnames <product>...")
			return
		}
		doSubmitNames(conn, args[1:])
	case "status":
		if len(args) != 2 {
			fmt.Println("Usage: sclient <flags> status <job id>")
			return
		}
		doStatus(conn, args[1])
	case "jobs":
		doJobs(conn)
	case "webhook":
		if len(args) != 4 {
			fmt.Println("Usage: sclient <flags> webhook <product> <edition> <update>")
			return
		}
		doWebhook(conn, args[1:])
	default:
		fmt.Print(usage)
		os.Exit(1)
	}
}

func doSubmit(conn *connection, args []string) {
	edition, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("Error: edition is not a number:", args[1])
		return
	}
	update, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Println("Error: update is not a number:", args[2])
		return
	}
	var filesize int64
	if len(args) == 4 {
		filesize, err = strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			fmt.Println("Error: filesize is not a number:", args[3])
			return
		}
	}

	id, err := conn.SubmitJob(args[0], edition, update, filesize, *mode)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Job", id)
	if *wait {
		waitForJob(conn, id)
	}
}

// doSubmitNames submits products by identifier only; the server resolves
// editions, updates, and sizes through the catalog service.
func doSubmitNames(conn *connection, names []string) {
	id, err := conn.SubmitJobByNames(names, *mode)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Job", id)
	if *wait {
		waitForJob(conn, id)
	}
}

func waitForJob(conn *connection, id string) {
	for {
		status, errmsg, err := conn.JobStatus(id)
		if err != nil {
			fmt.Println(err)
			return
		}
		if status != "received" {
			fmt.Println("Status", status)
			if errmsg != "" {
				fmt.Println("Error", errmsg)
			}
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func doStatus(conn *connection, id string) {
	status, errmsg, err := conn.JobStatus(id)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Status", status)
	if errmsg != "" {
		fmt.Println("Error", errmsg)
	}
}

func doJobs(conn *connection) {
	err := conn.PrintJobs()
	if err != nil {
		fmt.Println(err)
	}
}

func doWebhook(conn *connection, args []string) {
	err := conn.SendPublishEvent(args[0], args[1], args[2])
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Invalidated", args[0], args[1], args[2])
}
