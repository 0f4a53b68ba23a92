// Package model provides the framed gob encoding the reference engine uses for
// model blobs and binary dataset dumps.
package model

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// Encode writes magic followed by the gob encoding of v.
func Encode(w io.Writer, magic string, v interface{}) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// Decode checks the magic header and gob-decodes the remainder into v.
func Decode(r io.Reader, magic string, v interface{}) error {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return errors.Wrap(err, "failed to read header")
	}
	if string(header) != magic {
		return errors.Newf("unexpected header %q", header)
	}
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// Marshal is Encode into a fresh byte slice.
func Marshal(magic string, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, magic, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is Decode from a byte slice.
func Unmarshal(data []byte, magic string, v interface{}) error {
	return Decode(bytes.NewReader(data), magic, v)
}

// SaveFile writes v to filename.
//
// 使用例:
//
//	err := model.SaveFile("train.buffer", datasetMagic, &snapshot)
func SaveFile(filename, magic string, v interface{}) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close file")
		}
	}()

	bw := bufio.NewWriter(file)
	if err := Encode(bw, magic, v); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadFile reads v from filename.
func LoadFile(filename, magic string, v interface{}) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return Decode(bufio.NewReader(file), magic, v)
}
