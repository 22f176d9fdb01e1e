package app

import (
	"log"
	"mime"
)

func init() {
	ensureMimeType(".csv", "text/csv; charset=utf-8")
	ensureMimeType(".parquet", "application/vnd.apache.parquet")
}

// ensureMimeType registers types the export file server relies on when the
// host mime database lacks them.
func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("app: failed to register MIME type for %s: %v", ext, err)
	}
}
