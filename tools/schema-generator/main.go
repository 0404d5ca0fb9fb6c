// Command schema-generator writes schema/multiworld.schema.json from the
// config types. With --check it fails when the committed file is stale.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/schema"
	"github.com/spf13/pflag"
)

func main() {
	output := pflag.StringP("output", "o", filepath.Join("schema", "multiworld.schema.json"), "Schema file to write")
	check := pflag.Bool("check", false, "Compare the embedded schema with the generated one instead of writing")
	pflag.Parse()

	generated, err := config.GenerateSchema()
	if err != nil {
		fail("generate schema: %v", err)
	}
	generated = append(generated, '\n')

	if *check {
		if !bytes.Equal(bytes.TrimSpace(schema.Raw()), bytes.TrimSpace(generated)) {
			fail("%s is out of date; run go run ./tools/schema-generator", *output)
		}
		return
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
		fail("create schema directory: %v", err)
	}
	if err := os.WriteFile(*output, generated, 0644); err != nil {
		fail("write schema: %v", err)
	}
	fmt.Printf("Wrote %s\n", *output)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "schema-generator: "+format+"\n", args...)
	os.Exit(1)
}
