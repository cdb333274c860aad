// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

//go:build ignore

// This tool validates that all *.go files in the module carry the license
// header. Run it with `go run checkcopyright.go` from the module root.
package main

import (
	"bytes"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

var header = [][]byte{
	[]byte("// Unless explicitly stated otherwise all files in this repository are licensed"),
	[]byte("// under the Apache License Version 2.0."),
	[]byte("// Copyright 2016 Datadog, Inc."),
}

func main() {
	var missing bool
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// directories starting with _ or . are ignored by the go tool
			if path != "." && (strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		// read 1KB, header should be there
		snip := make([]byte, 1024)
		n, err := f.Read(snip)
		if err != nil && err != io.EOF {
			return err
		}
		for _, line := range header {
			if !bytes.Contains(snip[:n], line) {
				missing = true
				log.Printf("License header missing in %q.\n", path)
				break
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	if missing {
		// some files are missing the header, exit code 1 to fail CI
		os.Exit(1)
	}
}
