package protocol

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Command is a client->server message. The set is closed: only types in this
// package implement it.
type Command interface {
	CommandType() CommandType
	String() string
	encode(w *writer)
}

// Execute runs a program on the server and waits for it to finish, unless
// Background is set.
type Execute struct {
	WorkingDirectory   string
	Executable         string
	Arguments          string
	Environment        map[string]string
	RunAsAdministrator bool
	Background         bool
	// ExecutionTimeoutSecs of 0 disables the timeout.
	ExecutionTimeoutSecs uint32
}

func (c *Execute) CommandType() CommandType { return TypeExecute }

func (c *Execute) String() string {
	return fmt.Sprintf("Execute(%s %s, dir=%q, timeout=%ds, admin=%t, background=%t)",
		c.Executable, c.Arguments, c.WorkingDirectory, c.ExecutionTimeoutSecs, c.RunAsAdministrator, c.Background)
}

func (c *Execute) encode(w *writer) {
	w.string(c.WorkingDirectory)
	w.string(c.Executable)
	w.string(c.Arguments)
	w.stringMap(c.Environment)
	w.bool(c.RunAsAdministrator)
	w.bool(c.Background)
	w.uint32(c.ExecutionTimeoutSecs)
}

func decodeExecute(r *reader) Command {
	return &Execute{
		WorkingDirectory:     r.string(),
		Executable:           r.string(),
		Arguments:            r.string(),
		Environment:          r.stringMap(),
		RunAsAdministrator:   r.bool(),
		Background:           r.bool(),
		ExecutionTimeoutSecs: r.uint32(),
	}
}

// FetchMetadata asks for the size and timestamp of a result file. FilePath
// segments are joined with the server's separator.
type FetchMetadata struct {
	FilePath     []string
	BinaryOutput bool
}

func (c *FetchMetadata) CommandType() CommandType { return TypeFetchMetadata }

func (c *FetchMetadata) String() string {
	return fmt.Sprintf("FetchMetadata(%s, binary=%t)", filepath.Join(c.FilePath...), c.BinaryOutput)
}

func (c *FetchMetadata) encode(w *writer) {
	w.strings(c.FilePath)
	w.bool(c.BinaryOutput)
}

func decodeFetchMetadata(r *reader) Command {
	return &FetchMetadata{
		FilePath:     r.strings(),
		BinaryOutput: r.bool(),
	}
}

// FetchResultRange reads a window of a result file.
type FetchResultRange struct {
	FilePath     []string
	BinaryOutput bool
	ByteOffset   int32
	ByteCount    int32
	OutputOffset int32
}

func (c *FetchResultRange) CommandType() CommandType { return TypeFetchResultRange }

func (c *FetchResultRange) String() string {
	return fmt.Sprintf("FetchResultRange(%s, binary=%t, offset=%d, count=%d, outputOffset=%d)",
		filepath.Join(c.FilePath...), c.BinaryOutput, c.ByteOffset, c.ByteCount, c.OutputOffset)
}

func (c *FetchResultRange) encode(w *writer) {
	w.strings(c.FilePath)
	w.bool(c.BinaryOutput)
	w.int32(c.ByteOffset)
	w.int32(c.ByteCount)
	w.int32(c.OutputOffset)
}

func decodeFetchResultRange(r *reader) Command {
	return &FetchResultRange{
		FilePath:     r.strings(),
		BinaryOutput: r.bool(),
		ByteOffset:   r.int32(),
		ByteCount:    r.int32(),
		OutputOffset: r.int32(),
	}
}

type ListEnvironmentVariables struct{}

func (c *ListEnvironmentVariables) CommandType() CommandType { return TypeListEnvironmentVariables }
func (c *ListEnvironmentVariables) String() string           { return "ListEnvironmentVariables()" }
func (c *ListEnvironmentVariables) encode(*writer)           {}

func decodeListEnvironmentVariables(*reader) Command { return &ListEnvironmentVariables{} }

// ListFiles collects metadata for everything under RootPath matching Globs.
type ListFiles struct {
	RootPath string
	Globs    []string
}

func (c *ListFiles) CommandType() CommandType { return TypeListFiles }

func (c *ListFiles) String() string {
	return fmt.Sprintf("ListFiles(%s, globs=[%s])", c.RootPath, strings.Join(c.Globs, ", "))
}

func (c *ListFiles) encode(w *writer) {
	w.string(c.RootPath)
	w.strings(c.Globs)
}

func decodeListFiles(r *reader) Command {
	return &ListFiles{
		RootPath: r.string(),
		Globs:    r.strings(),
	}
}

// GetFiles downloads the given paths, relative to RootPath.
type GetFiles struct {
	RootPath       string
	Paths          []string
	UseCompression bool
}

func (c *GetFiles) CommandType() CommandType { return TypeGetFiles }

func (c *GetFiles) String() string {
	return fmt.Sprintf("GetFiles(%s, %d paths, compressed=%t)", c.RootPath, len(c.Paths), c.UseCompression)
}

func (c *GetFiles) encode(w *writer) {
	w.string(c.RootPath)
	w.strings(c.Paths)
	w.bool(c.UseCompression)
}

func decodeGetFiles(r *reader) Command {
	return &GetFiles{
		RootPath:       r.string(),
		Paths:          r.strings(),
		UseCompression: r.bool(),
	}
}

// PutFiles uploads files under RootPath.
type PutFiles struct {
	RootPath           string
	Files              []PackedFile
	PreserveTimestamps bool
	UseCompression     bool
}

func (c *PutFiles) CommandType() CommandType { return TypePutFiles }

func (c *PutFiles) String() string {
	return fmt.Sprintf("PutFiles(%s, %d files, preserveTimestamps=%t, compressed=%t)",
		c.RootPath, len(c.Files), c.PreserveTimestamps, c.UseCompression)
}

func (c *PutFiles) encode(w *writer) {
	w.string(c.RootPath)
	writePackedFiles(w, c.Files)
	w.bool(c.PreserveTimestamps)
	w.bool(c.UseCompression)
}

func decodePutFiles(r *reader) Command {
	return &PutFiles{
		RootPath:           r.string(),
		Files:              readPackedFiles(r),
		PreserveTimestamps: r.bool(),
		UseCompression:     r.bool(),
	}
}

// ExchangeVersions must be the first command on every connection.
type ExchangeVersions struct {
	ClientVersion  string
	ClientPlatform Platform
}

func (c *ExchangeVersions) CommandType() CommandType { return TypeExchangeVersions }

func (c *ExchangeVersions) String() string {
	return fmt.Sprintf("ExchangeVersions(client=%s, platform=%s)", c.ClientVersion, c.ClientPlatform)
}

func (c *ExchangeVersions) encode(w *writer) {
	w.string(c.ClientVersion)
	w.byte(byte(c.ClientPlatform))
}

func decodeExchangeVersions(r *reader) Command {
	return &ExchangeVersions{
		ClientVersion:  r.string(),
		ClientPlatform: Platform(r.byte()),
	}
}

// Deploy unpacks a zip archive into Destination.
type Deploy struct {
	Destination        string
	Data               []byte
	PreserveTimestamps bool
}

func (c *Deploy) CommandType() CommandType { return TypeDeploy }

func (c *Deploy) String() string {
	return fmt.Sprintf("Deploy(%s, %d bytes)", c.Destination, len(c.Data))
}

func (c *Deploy) encode(w *writer) {
	w.string(c.Destination)
	w.bytes(c.Data)
	w.bool(c.PreserveTimestamps)
}

func decodeDeploy(r *reader) Command {
	return &Deploy{
		Destination:        r.string(),
		Data:               r.bytes(),
		PreserveTimestamps: r.bool(),
	}
}

var commandDecoders = map[CommandType]func(r *reader) Command{
	TypeExecute:                  decodeExecute,
	TypeFetchMetadata:            decodeFetchMetadata,
	TypeFetchResultRange:         decodeFetchResultRange,
	TypeListEnvironmentVariables: decodeListEnvironmentVariables,
	TypeListFiles:                decodeListFiles,
	TypeGetFiles:                 decodeGetFiles,
	TypePutFiles:                 decodePutFiles,
	TypeExchangeVersions:         decodeExchangeVersions,
	TypeDeploy:                   decodeDeploy,
}
