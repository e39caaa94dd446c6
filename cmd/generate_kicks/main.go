// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/relabs-tech/kick_trigger/internal/audio"
)

func main() {
	outDir := flag.String("out", "web/sounds", "output directory for WAV files")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	for _, spec := range audio.StockKicks {
		path := filepath.Join(*outDir, spec.Name+".wav")
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("failed to create %s: %v", path, err)
		}
		if err := audio.WriteWAV(f, audio.Generate(spec)); err != nil {
			f.Close()
			log.Fatalf("failed to write %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("failed to close %s: %v", path, err)
		}
		log.Printf("generated %s", path)
	}
}
