/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package qrcode turns payment URIs into scannable images, either rendered in
// process or delegated to a remote image service.
package qrcode

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	KindNative = "native"
	KindRemote = "remote"

	defaultSize = 256
)

// Renderer returns an image reference for content: a data URI or a URL.
type Renderer interface {
	Render(ctx context.Context, content string) (string, error)
}

// NativeRenderer encodes PNG images in process.
type NativeRenderer struct {
	Size int
}

func (r NativeRenderer) Render(_ context.Context, content string) (string, error) {
	size := r.Size
	if size <= 0 {
		size = defaultSize
	}
	png, err := goqrcode.Encode(content, goqrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encoding qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// RemoteRenderer builds the URL of an image service that renders the code.
// BaseURL is expected to end with the data query parameter.
type RemoteRenderer struct {
	BaseURL string
}

func (r RemoteRenderer) Render(_ context.Context, content string) (string, error) {
	if r.BaseURL == "" {
		return "", fmt.Errorf("remote qr renderer: base url not configured")
	}
	return r.BaseURL + url.QueryEscape(content), nil
}

// New selects a renderer by kind. Unknown kinds fall back to the native one.
func New(kind, remoteURL string) Renderer {
	if strings.EqualFold(kind, KindRemote) {
		return RemoteRenderer{BaseURL: remoteURL}
	}
	return NativeRenderer{Size: defaultSize}
}
