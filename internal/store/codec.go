// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

// record is the on-disk (and in-bucket) form of an Entry. The body is base64
// so binary image data survives the YAML document intact.
type record struct {
	Key    string              `yaml:"key"`
	Status int                 `yaml:"status"`
	Header map[string][]string `yaml:"header,omitempty"`
	Body   string              `yaml:"body"`
}

// Encode serializes e, stored under key, into a YAML document.
func Encode(key string, e *Entry) ([]byte, error) {
	r := record{
		Key:    key,
		Status: e.Status,
		Header: e.Header,
		Body:   base64.StdEncoding.EncodeToString(e.Body),
	}
	out, err := yaml.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}
	return out, nil
}

// Decode parses a document written by Encode. It returns the key the entry
// was stored under along with the entry.
func Decode(data []byte) (string, *Entry, error) {
	var r record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return "", nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode entry body: %w", err)
	}
	header := http.Header{}
	for k, v := range r.Header {
		header[k] = v
	}
	return r.Key, &Entry{Status: r.Status, Header: header, Body: body}, nil
}
