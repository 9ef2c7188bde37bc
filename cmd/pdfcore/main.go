// Command pdfcore is a thin driver over the core parser/writer/
// incremental packages: open a file, report its page count, and
// write it back out through a no-op incremental update to
// exercise the round trip. It is demo tooling, not the core library.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/halverson/pdfcore/incremental"
	"github.com/halverson/pdfcore/reader"
)

const version = "pdfcore 0.1.0"

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func main() {
	modify := flag.String("modify", "", "path to an existing PDF to open")
	output := flag.String("output", "", "path to write the result to (defaults to overwriting -modify in place)")
	password := flag.String("password", "", "password for an encrypted -modify file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if *modify == "" {
		fmt.Fprintln(os.Stderr, "pdfcore: -modify is required (see -version)")
		os.Exit(1)
	}

	data, err := os.ReadFile(*modify)
	check(err)

	doc, err := reader.Open(data, *password)
	check(err)

	pages, err := doc.LoadPages()
	check(err)
	fmt.Printf("%s: %d page(s)\n", *modify, pages.Count())

	outPath := *output
	if outPath == "" {
		outPath = *modify
	}

	var buf bytes.Buffer
	sess, err := incremental.Open(data, &buf, *password, false)
	check(err)
	check(sess.EndPDF())

	check(os.WriteFile(outPath, buf.Bytes(), 0o644))
	fmt.Println("wrote", outPath)
}
