package protocol

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2024, 3, 3, 12, 30, 15, 123456789, time.UTC)

func allCommands() []Command {
	return []Command{
		&Execute{
			WorkingDirectory:     "/tmp/work",
			Executable:           "python3",
			Arguments:            `script.py --name "a b"`,
			Environment:          map[string]string{"B": "2", "A": "1"},
			RunAsAdministrator:   true,
			ExecutionTimeoutSecs: 30,
		},
		&Execute{Executable: "true", Background: true},
		&FetchMetadata{FilePath: []string{"/tmp", "out.txt"}, BinaryOutput: true},
		&FetchResultRange{FilePath: []string{"/tmp", "out.bin"}, BinaryOutput: false, ByteOffset: 6, ByteCount: 8, OutputOffset: 2},
		&ListEnvironmentVariables{},
		&ListFiles{RootPath: "/srv/project", Globs: []string{"**/*.s", "*.txt"}},
		&GetFiles{RootPath: "/srv/project", Paths: []string{"a.txt", "dir/"}, UseCompression: true},
		&PutFiles{
			RootPath: "/srv/project",
			Files: []PackedFile{
				{RelativePath: "dir/", LastWriteTime: stamp},
				{RelativePath: "dir/a.txt", LastWriteTime: stamp, Data: []byte("hello")},
			},
			PreserveTimestamps: true,
		},
		&ExchangeVersions{ClientVersion: "2024.3.3", ClientPlatform: PlatformWindows},
		&Deploy{Destination: "/opt/kernels", Data: []byte{0x50, 0x4b, 0x05, 0x06}, PreserveTimestamps: true},
	}
}

func allResponses() []Response {
	return []Response{
		&ExecutionCompleted{Status: StatusCompleted, ExitCode: 0, Stdout: "h\r\n", ExecutionTime: 1500 * time.Millisecond},
		&ExecutionCompleted{Status: StatusCouldNotLaunch, ExitCode: -1},
		&MetadataFetched{Status: FetchSuccessful, ByteCount: 1024, Timestamp: stamp},
		&MetadataFetched{Status: FetchFileNotFound},
		&ResultRangeFetched{Status: FetchSuccessful, Data: []byte{1, 0, 0, 0}, Timestamp: stamp},
		&EnvironmentVariablesListed{Variables: map[string]string{"PATH": "/usr/bin", "HOME": "/root"}},
		&ListFilesResponse{Files: []FileMetadata{
			{RelativePath: "./", LastWriteTime: stamp},
			{RelativePath: "a.s", Size: 42, LastWriteTime: stamp},
		}},
		&GetFilesResponse{Status: GetFilesSuccessful, Files: []PackedFile{{RelativePath: "a.s", LastWriteTime: stamp, Data: []byte("v_add")}}},
		&GetFilesResponse{Status: GetFilesFileNotFound},
		&PutFilesResponse{Status: PutFilesPathOutsideRoot},
		&ExchangeVersionsResponse{Status: ExchangeVersionsSuccessful, Info: CapabilityInfo{
			ServerIdentity:  "debugserver",
			Version:         "2024.3.3",
			Platform:        PlatformLinux,
			PlatformDetails: "ubuntu 22.04 x86_64",
			ProtocolVersion: ProtocolVersion,
			Capabilities:    []Capability{CapabilityBase, CapabilityDeploy},
		}},
		&DeployCompleted{Status: DeployFailure},
	}
}

func TestCommandRoundTrip(t *testing.T) {
	for _, cmd := range allCommands() {
		cmd := cmd
		t.Run(cmd.CommandType().String(), func(t *testing.T) {
			got, err := UnmarshalCommand(MarshalCommand(cmd))
			require.NoError(t, err)
			assert.Equal(t, cmd, got)
		})
	}

	// Empty collections share the encoding of nil ones and decode as nil.
	t.Run("empty collections", func(t *testing.T) {
		cases := []struct{ sent, want Command }{
			{&Execute{Executable: "true", Environment: map[string]string{}}, &Execute{Executable: "true"}},
			{&ListFiles{RootPath: "/srv", Globs: []string{}}, &ListFiles{RootPath: "/srv"}},
			{&Deploy{Destination: "/opt", Data: []byte{}}, &Deploy{Destination: "/opt"}},
			{&PutFiles{RootPath: "/srv", Files: []PackedFile{}}, &PutFiles{RootPath: "/srv"}},
		}
		for _, c := range cases {
			assert.Equal(t, MarshalCommand(c.want), MarshalCommand(c.sent))
			got, err := UnmarshalCommand(MarshalCommand(c.sent))
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		}
	})
}

// allocatedBy reports the bytes allocated while f runs.
func allocatedBy(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestHugeCountsFailWithoutAllocating(t *testing.T) {
	countedBody := func(typ CommandType, count uint32, padding int) []byte {
		body := []byte{byte(typ)}
		body = binary.LittleEndian.AppendUint32(body, 0) // empty RootPath
		body = binary.LittleEndian.AppendUint32(body, count)
		return append(body, make([]byte, padding)...)
	}
	cases := []struct {
		name  string
		body  []byte
		limit uint64
	}{
		{name: "packed files", body: countedBody(TypePutFiles, 4<<20, 4<<20), limit: 1 << 20},
		{name: "globs", body: countedBody(TypeListFiles, 1<<20, 1<<20), limit: 1 << 20},
		{
			name:  "compressed packed files",
			body:  MarshalCommand(&Compressed{Command: rawCommand(countedBody(TypePutFiles, 4<<20, 4<<20))}),
			limit: 32 << 20,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var err error
			allocated := allocatedBy(func() { _, err = UnmarshalCommand(c.body) })
			assert.ErrorIs(t, err, ErrTruncated)
			assert.Less(t, allocated, c.limit)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	for _, resp := range allResponses() {
		resp := resp
		t.Run(resp.ResponseType().String(), func(t *testing.T) {
			got, err := UnmarshalResponse(MarshalResponse(resp))
			require.NoError(t, err)
			assert.Equal(t, resp, got)
		})
	}
}

func TestCompressedCommandUnwraps(t *testing.T) {
	inner := &Deploy{Destination: "/opt/kernels", Data: bytes.Repeat([]byte("kernel"), 1000)}
	body := MarshalCommand(Compress(inner))
	assert.Equal(t, byte(TypeCompressed), body[0])
	assert.Less(t, len(body), len(MarshalCommand(inner)))

	got, err := UnmarshalCommand(body)
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}

func TestNestedCompressionRejected(t *testing.T) {
	nested := &Compressed{Command: &Compressed{Command: &ListEnvironmentVariables{}}}
	_, err := UnmarshalCommand(MarshalCommand(nested))
	require.ErrorIs(t, err, ErrNestedCompression)
	assert.True(t, IsProtocolError(err))
}

func TestUnmarshalCommandErrors(t *testing.T) {
	valid := MarshalCommand(&FetchMetadata{FilePath: []string{"/tmp", "x"}, BinaryOutput: true})

	cases := []struct {
		name string
		body []byte
		err  error
	}{
		{name: "empty", body: nil, err: ErrEmptyMessage},
		{name: "unknown discriminator", body: []byte{0x42}, err: ErrUnknownCommand},
		{name: "response discriminator", body: []byte{byte(TypeDeployCompleted), 0}, err: ErrUnknownCommand},
		{name: "truncated", body: valid[:len(valid)-1], err: ErrTruncated},
		{name: "trailing data", body: append(append([]byte{}, valid...), 0), err: ErrTrailingData},
		{name: "invalid bool", body: append(append([]byte{}, valid[:len(valid)-1]...), 7), err: ErrInvalidBool},
		{name: "oversized count", body: []byte{byte(TypeFetchMetadata), 0xff, 0xff, 0xff, 0x7f}, err: ErrTruncated},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := UnmarshalCommand(c.body)
			require.ErrorIs(t, err, c.err)
			assert.True(t, IsProtocolError(err))
		})
	}
}

func TestUnmarshalResponseUnknown(t *testing.T) {
	_, err := UnmarshalResponse([]byte{byte(TypeExecute)})
	require.ErrorIs(t, err, ErrUnknownResponse)
}

func TestWireLayout(t *testing.T) {
	frame := commandFrame(&ExchangeVersions{ClientVersion: "1.0", ClientPlatform: PlatformLinux})
	require.Len(t, frame, 4+1+4+3+1)
	assert.Equal(t, uint32(len(frame)-4), binary.LittleEndian.Uint32(frame))
	assert.Equal(t, byte(TypeExchangeVersions), frame[4])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(frame[5:]))
	assert.Equal(t, "1.0", string(frame[9:12]))
	assert.Equal(t, byte(PlatformLinux), frame[12])
}

func TestExecutionTimeInMilliseconds(t *testing.T) {
	body := MarshalResponse(&ExecutionCompleted{Status: StatusCompleted, ExecutionTime: 1500*time.Millisecond + 999*time.Microsecond})
	assert.Equal(t, int64(1500), int64(binary.LittleEndian.Uint64(body[len(body)-8:])))

	got, err := UnmarshalResponse(body)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, got.(*ExecutionCompleted).ExecutionTime)
}

func TestZeroTimeRoundTrip(t *testing.T) {
	got, err := UnmarshalResponse(MarshalResponse(&MetadataFetched{Status: FetchFileNotFound}))
	require.NoError(t, err)
	assert.True(t, got.(*MetadataFetched).Timestamp.IsZero())
}

// rawCommand encodes a prebuilt body verbatim.
type rawCommand []byte

func (c rawCommand) CommandType() CommandType { return CommandType(c[0]) }
func (c rawCommand) String() string           { return "raw" }
func (c rawCommand) encode(w *writer)         { w.buf = append(w.buf, c[1:]...) }
