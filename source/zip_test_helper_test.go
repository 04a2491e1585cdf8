package source_test

import (
	"archive/zip"
	"io"
)

func zipWriterWithEntry(w io.Writer, name string, content []byte) *zip.Writer {
	zw := zip.NewWriter(w)
	f, _ := zw.Create(name)
	f.Write(content)
	zw.Close()
	return zw
}
