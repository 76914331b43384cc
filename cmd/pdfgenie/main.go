// Command pdfgenie indexes a directory of documents and answers questions
// and extraction requests over it from the command line.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
