package main

import (
	"log"
	"os"

	"github.com/apim-gateway/gwbundle/internal/config"
)

// Writes the configuration schema reflected from the config types to the
// given path, or to stdout for "-".
func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s path/to/schema.json|-", os.Args[0])
	}
	bs, err := config.ReflectSchema()
	if err != nil {
		log.Fatal(err)
	}
	if os.Args[1] == "-" {
		_, err = os.Stdout.Write(append(bs, '\n'))
	} else {
		err = os.WriteFile(os.Args[1], append(bs, '\n'), 0o644)
	}
	if err != nil {
		log.Fatal(err)
	}
}
