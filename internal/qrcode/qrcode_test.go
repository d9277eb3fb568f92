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

package qrcode

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uri = "ripple:rPool1?amount=100.000000&dt=42"

func TestNativeRenderer(t *testing.T) {
	image, err := NativeRenderer{}.Render(context.Background(), uri)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(image, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(image, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestRemoteRenderer(t *testing.T) {
	image, err := RemoteRenderer{BaseURL: "https://qr.test/render?data="}.Render(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, "https://qr.test/render?data=ripple%3ArPool1%3Famount%3D100.000000%26dt%3D42", image)

	_, err = RemoteRenderer{}.Render(context.Background(), uri)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	assert.IsType(t, RemoteRenderer{}, New("REMOTE", "https://qr.test/?d="))
	assert.IsType(t, NativeRenderer{}, New("native", ""))
	assert.IsType(t, NativeRenderer{}, New("", ""))
}
