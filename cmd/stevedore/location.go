package main

import (
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/navlib/stevedore/store"
)

// splitBucketPrefix will take a path and separate the bucket name from a prefix, if any.
// It will also append "addition" to the prefix, and make sure the prefix returned is
// either empty or ends with a slash "/".
//
// examples:
// 		"" -> ("", "")
//		"bucket" -> ("bucket", "")
//		"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string, addition string) (bucket, prefix string) {
	if location == "" {
		return
	}
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if addition != "" {
		prefix = path.Join(prefix, addition)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// parselocation will create an appropriate overflow store based on
// "location". In case of an error, nil is returned.
// If location is empty, a memory store is returned.
// It understands the special scheme "s3:".
func parselocation(location string, addition string) store.Store {
	if location == "" {
		return store.NewMemory()
	}
	u, _ := url.Parse(location)
	switch u.Scheme {
	case "", "file":
		path := filepath.Join(u.Path, addition)
		os.MkdirAll(path, 0755)
		return store.NewFileSystem(path)
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path, addition)
		if bucket == "" {
			log.Println("Error parsing location, no bucket name", location)
			return nil
		}
		return store.NewS3(bucket, prefix, session.New(conf))
	}
	log.Println("Problem parsing location", location)
	return nil
}
