package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionDecodeUUIDSynonym(t *testing.T) {
	var byUUID, byGuestUUID DownstreamInstruction

	require.NoError(t, json.Unmarshal([]byte(`{"action":"reboot","uuid":"u-1"}`), &byUUID))
	require.NoError(t, json.Unmarshal([]byte(`{"action":"reboot","guest_uuid":"u-1"}`), &byGuestUUID))

	assert.Equal(t, "u-1", byUUID.UUID)
	assert.Equal(t, "u-1", byGuestUUID.UUID)

	// An explicit uuid wins over the synonym.
	var both DownstreamInstruction
	require.NoError(t, json.Unmarshal([]byte(`{"uuid":"a","guest_uuid":"b"}`), &both))
	assert.Equal(t, "a", both.UUID)
}

func TestInstructionDecodeStorageAndDisks(t *testing.T) {
	payload := `{
		"action": "create_guest",
		"uuid": "u-1",
		"storage_mode": "glusterfs",
		"dfs_volume": "gv0",
		"disks": [
			{"sequence": 0, "path": "/images/sys.qcow2", "iops": 500, "bps_rd": 1048576}
		],
		"passback_parameters": {"job": 7}
	}`

	var msg DownstreamInstruction
	require.NoError(t, json.Unmarshal([]byte(payload), &msg))

	assert.Equal(t, StorageModeGlusterFS, msg.Storage.Mode)
	assert.Equal(t, "gv0", msg.Storage.DFSVolume)

	require.Len(t, msg.Disks, 1)
	disk := msg.Disks[0]
	assert.Equal(t, 0, disk.Sequence)
	assert.Equal(t, uint64(500), disk.IOPS)
	assert.Equal(t, uint64(1048576), disk.BPSRead)
	assert.Equal(t, "drive-virtio-disk0", disk.DeviceName())

	assert.JSONEq(t, `{"job": 7}`, string(msg.PassbackParameters))
}

func TestStorageDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    StorageDescriptor
		wantErr bool
	}{
		{"local", StorageDescriptor{Mode: StorageModeLocal}, false},
		{"shared", StorageDescriptor{Mode: StorageModeSharedMount}, false},
		{"glusterfs with volume", StorageDescriptor{Mode: StorageModeGlusterFS, DFSVolume: "gv0"}, false},
		{"glusterfs without volume", StorageDescriptor{Mode: StorageModeGlusterFS}, true},
		{"ceph without volume", StorageDescriptor{Mode: StorageModeCeph}, true},
		{"unknown mode", StorageDescriptor{Mode: "nfs"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGuestSystemImagePath(t *testing.T) {
	g := Guest{Disks: []Disk{{Sequence: 0, Path: "/images/sys.qcow2"}, {Sequence: 1, Path: "/images/data.qcow2"}}}

	path, err := g.SystemImagePath()
	require.NoError(t, err)
	assert.Equal(t, "/images/sys.qcow2", path)

	_, err = Guest{}.SystemImagePath()
	assert.Error(t, err)
}

func TestUpstreamMessageRoundTrip(t *testing.T) {
	msg := UpstreamMessage{
		Kind:       EmitKindGuestEvent,
		Type:       "running",
		TimestampS: 1700000000,
		Host:       "host-1",
		NodeID:     42,
		Message:    json.RawMessage(`{"uuid":"u-1"}`),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	// All six top-level fields present on the wire.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, field := range []string{"kind", "type", "timestamp", "host", "node_id", "message"} {
		assert.Contains(t, raw, field)
	}
}
