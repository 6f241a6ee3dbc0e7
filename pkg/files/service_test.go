// Copyright 2025 The Wastepro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
)

func TestNewFileID(t *testing.T) {
	id := NewFileID("manual.pdf")
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")

	// Same filename, different uploads, different ids.
	other := NewFileID("manual.pdf")
	assert.NotEqual(t, id, other)
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", MimeType("report.PDF"))
	assert.Equal(t, "application/octet-stream", MimeType("weird.zzz"))
	assert.Equal(t, "application/octet-stream", MimeType("noextension"))
}

func TestUploadRoundTrip(t *testing.T) {
	broker := bus.NewMemoryBroker(0)
	defer broker.Close()

	home := t.TempDir()
	service := NewService(broker, config.FileServiceConfig{HomeDirectory: home})
	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()

	caller := bus.NewAgent("caller", broker)
	require.NoError(t, caller.Start(context.Background()))
	defer caller.Terminate()

	payload := []byte("%PDF-1.7 fake body")
	upload := bus.NewBinaryParcel(payload, map[string]any{
		"filename": "manual.pdf",
		"kg_name":  "waste",
	})

	reply, err := caller.PublishSync(context.Background(), bus.TopicFileUpload, upload, 2*time.Second)
	require.NoError(t, err)

	var stored StoredFile
	require.NoError(t, reply.Decode(&stored))
	assert.Len(t, stored.FileID, 32)
	assert.Equal(t, "application/pdf", stored.MimeType)
	assert.Equal(t, "binary", stored.Encoding)
	// Sidecar keys survive into the reply.
	assert.Equal(t, "waste", reply.Content["kg_name"])

	// Sharded layout: <home>/<id[:2]>/<id>-<filename>.
	assert.Equal(t,
		filepath.Join(home, stored.FileID[:2], stored.FileID+"-manual.pdf"),
		stored.FilePath)

	data, err := os.ReadFile(stored.FilePath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestUploadWithoutFilename(t *testing.T) {
	broker := bus.NewMemoryBroker(0)
	defer broker.Close()

	service := NewService(broker, config.FileServiceConfig{HomeDirectory: t.TempDir()})
	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()

	caller := bus.NewAgent("caller", broker)
	require.NoError(t, caller.Start(context.Background()))
	defer caller.Terminate()

	_, err := caller.PublishSync(context.Background(), bus.TopicFileUpload,
		bus.NewBinaryParcel([]byte("data"), nil), 2*time.Second)
	require.Error(t, err)

	var pe *bus.ParcelError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bus.KindFileIOError, pe.Kind)
}
