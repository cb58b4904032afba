package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/antonholmquist/jason"
)

// Exported errors
var (
	ErrNotFound       = errors.New("Job Not Found")
	ErrUnexpectedResp = errors.New("Unexpected Response Code")
)

// connection wraps the stevedore REST interface for the command handlers.
type connection struct {
	Host    string
	Verbose bool

	client *http.Client
}

// do performs an http request using our client with a timeout. The
// timeout is arbitrary, and is just there so we don't hang indefinitely
// should the server never close the connection.
func (c *connection) do(req *http.Request) (*http.Response, error) {
	if c.client == nil {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	}
	if c.Verbose {
		log.Println(req.Method, req.URL)
	}
	return c.client.Do(req)
}

// SubmitJob posts one fully resolved fulfilment request and returns the
// new job id.
func (c *connection) SubmitJob(product string, edition, update int, filesize int64, mode string) (string, error) {
	return c.postJob(map[string]interface{}{
		"products": []map[string]interface{}{{
			"productName":   product,
			"editionNumber": edition,
			"updateNumber":  update,
			"fileSize":      filesize,
		}},
	}, mode)
}

// SubmitJobByNames posts a fulfilment request naming products by
// identifier only; the server resolves editions, updates, and sizes
// through the catalog service.
func (c *connection) SubmitJobByNames(names []string, mode string) (string, error) {
	return c.postJob(map[string]interface{}{
		"productIdentifiers": names,
	}, mode)
}

func (c *connection) postJob(body map[string]interface{}, mode string) (string, error) {
	buf, _ := json.Marshal(body)

	path := "http://" + c.Host + "/jobs?mode=" + mode
	req, _ := http.NewRequest("POST", path, bytes.NewReader(buf))
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 202 {
		printErrorBody(resp)
		return "", ErrUnexpectedResp
	}
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	return v.GetString("id")
}

// JobStatus returns the status and (if failed) the error message for a job.
func (c *connection) JobStatus(id string) (status, errmsg string, err error) {
	v, err := c.doJasonGet("/jobs/" + id)
	if err != nil {
		return "", "", err
	}
	status, _ = v.GetString("status")
	errmsg, _ = v.GetString("error")
	if c.Verbose {
		if queueName, err := v.GetString("result", "QueueName"); err == nil {
			log.Println("queue", queueName)
		}
	}
	return status, errmsg, nil
}

// PrintJobs lists every job the server knows about, one per line.
func (c *connection) PrintJobs() error {
	path := "http://" + c.Host + "/jobs"
	req, _ := http.NewRequest("GET", path, nil)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		printErrorBody(resp)
		return ErrUnexpectedResp
	}
	v, err := jason.NewValueFromReader(resp.Body)
	if err != nil {
		return err
	}
	jobs, err := v.Array()
	if err != nil {
		return err
	}
	for _, jv := range jobs {
		jb, err := jv.Object()
		if err != nil {
			return err
		}
		id, _ := jb.GetString("id")
		status, _ := jb.GetString("status")
		submitted, _ := jb.GetString("submitted")
		fmt.Println(id, status, submitted)
	}
	return nil
}

// SendPublishEvent posts a synthetic batch-published event, which makes the
// server drop its cache entry for the product.
func (c *connection) SendPublishEvent(product, edition, update string) error {
	event := map[string]interface{}{
		"type":   "uk.gov.ukho.fss.batch.published.v1",
		"source": "sclient",
		"id":     fmt.Sprintf("sclient-%d", time.Now().UnixNano()),
		"data": map[string]interface{}{
			"data": map[string]interface{}{
				"batchId": "sclient-synthetic",
				"attributes": []map[string]string{
					{"key": "CellName", "value": product},
					{"key": "EditionNumber", "value": edition},
					{"key": "UpdateNumber", "value": update},
				},
			},
		},
	}
	buf, _ := json.Marshal(event)

	path := "http://" + c.Host + "/webhook"
	req, _ := http.NewRequest("POST", path, bytes.NewReader(buf))
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		printErrorBody(resp)
		return ErrUnexpectedResp
	}
	return nil
}

func (c *connection) doJasonGet(path string) (*jason.Object, error) {
	path = "http://" + c.Host + path

	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return jason.NewObjectFromReader(resp.Body)
	case 404:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("Received status %d from server", resp.StatusCode)
	}
}

// printErrorBody shows the structured errors from a failure response.
func printErrorBody(resp *http.Response) {
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return
	}
	errs, err := v.GetObjectArray("errors")
	if err != nil {
		return
	}
	for _, e := range errs {
		source, _ := e.GetString("source")
		desc, _ := e.GetString("description")
		log.Printf("Server error: %s: %s", source, desc)
	}
}
