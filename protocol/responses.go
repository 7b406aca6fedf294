package protocol

import (
	"fmt"
	"time"
)

// Response is a server->client message. Every command is answered by exactly
// one response.
type Response interface {
	ResponseType() ResponseType
	String() string
	encode(w *writer)
}

type ExecutionCompleted struct {
	Status        ExecutionStatus
	ExitCode      int32
	Stdout        string
	Stderr        string
	ExecutionTime time.Duration
}

func (r *ExecutionCompleted) ResponseType() ResponseType { return TypeExecutionCompleted }

func (r *ExecutionCompleted) String() string {
	return fmt.Sprintf("ExecutionCompleted(%s, exit=%d, stdout=%dB, stderr=%dB, took=%s)",
		r.Status, r.ExitCode, len(r.Stdout), len(r.Stderr), r.ExecutionTime)
}

func (r *ExecutionCompleted) encode(w *writer) {
	w.byte(byte(r.Status))
	w.int32(r.ExitCode)
	w.string(r.Stdout)
	w.string(r.Stderr)
	w.duration(r.ExecutionTime)
}

func decodeExecutionCompleted(r *reader) Response {
	return &ExecutionCompleted{
		Status:        ExecutionStatus(r.byte()),
		ExitCode:      r.int32(),
		Stdout:        r.string(),
		Stderr:        r.string(),
		ExecutionTime: r.duration(),
	}
}

type MetadataFetched struct {
	Status    FetchStatus
	ByteCount int32
	Timestamp time.Time
}

func (r *MetadataFetched) ResponseType() ResponseType { return TypeMetadataFetched }

func (r *MetadataFetched) String() string {
	return fmt.Sprintf("MetadataFetched(%s, %d bytes, %s)", r.Status, r.ByteCount, r.Timestamp.Format(time.RFC3339))
}

func (r *MetadataFetched) encode(w *writer) {
	w.byte(byte(r.Status))
	w.int32(r.ByteCount)
	w.time(r.Timestamp)
}

func decodeMetadataFetched(r *reader) Response {
	return &MetadataFetched{
		Status:    FetchStatus(r.byte()),
		ByteCount: r.int32(),
		Timestamp: r.time(),
	}
}

type ResultRangeFetched struct {
	Status    FetchStatus
	Data      []byte
	Timestamp time.Time
}

func (r *ResultRangeFetched) ResponseType() ResponseType { return TypeResultRangeFetched }

func (r *ResultRangeFetched) String() string {
	return fmt.Sprintf("ResultRangeFetched(%s, %d bytes, %s)", r.Status, len(r.Data), r.Timestamp.Format(time.RFC3339))
}

func (r *ResultRangeFetched) encode(w *writer) {
	w.byte(byte(r.Status))
	w.bytes(r.Data)
	w.time(r.Timestamp)
}

func decodeResultRangeFetched(r *reader) Response {
	return &ResultRangeFetched{
		Status:    FetchStatus(r.byte()),
		Data:      r.bytes(),
		Timestamp: r.time(),
	}
}

type EnvironmentVariablesListed struct {
	Variables map[string]string
}

func (r *EnvironmentVariablesListed) ResponseType() ResponseType {
	return TypeEnvironmentVariablesListed
}

func (r *EnvironmentVariablesListed) String() string {
	return fmt.Sprintf("EnvironmentVariablesListed(%d variables)", len(r.Variables))
}

func (r *EnvironmentVariablesListed) encode(w *writer) { w.stringMap(r.Variables) }

func decodeEnvironmentVariablesListed(r *reader) Response {
	return &EnvironmentVariablesListed{Variables: r.stringMap()}
}

type ListFilesResponse struct {
	Files []FileMetadata
}

func (r *ListFilesResponse) ResponseType() ResponseType { return TypeListFilesResponse }

func (r *ListFilesResponse) String() string {
	return fmt.Sprintf("ListFilesResponse(%d entries)", len(r.Files))
}

func (r *ListFilesResponse) encode(w *writer) { writeFileMetadata(w, r.Files) }

func decodeListFilesResponse(r *reader) Response {
	return &ListFilesResponse{Files: readFileMetadata(r)}
}

type GetFilesResponse struct {
	Status GetFilesStatus
	Files  []PackedFile
}

func (r *GetFilesResponse) ResponseType() ResponseType { return TypeGetFilesResponse }

func (r *GetFilesResponse) String() string {
	return fmt.Sprintf("GetFilesResponse(status=%d, %d files)", r.Status, len(r.Files))
}

func (r *GetFilesResponse) encode(w *writer) {
	w.byte(byte(r.Status))
	writePackedFiles(w, r.Files)
}

func decodeGetFilesResponse(r *reader) Response {
	return &GetFilesResponse{
		Status: GetFilesStatus(r.byte()),
		Files:  readPackedFiles(r),
	}
}

type PutFilesResponse struct {
	Status PutFilesStatus
}

func (r *PutFilesResponse) ResponseType() ResponseType { return TypePutFilesResponse }
func (r *PutFilesResponse) String() string             { return fmt.Sprintf("PutFilesResponse(status=%d)", r.Status) }
func (r *PutFilesResponse) encode(w *writer)           { w.byte(byte(r.Status)) }

func decodePutFilesResponse(r *reader) Response {
	return &PutFilesResponse{Status: PutFilesStatus(r.byte())}
}

type ExchangeVersionsResponse struct {
	Status ExchangeVersionsStatus
	Info   CapabilityInfo
}

func (r *ExchangeVersionsResponse) ResponseType() ResponseType { return TypeExchangeVersionsResponse }

func (r *ExchangeVersionsResponse) String() string {
	return fmt.Sprintf("ExchangeVersionsResponse(status=%d, server=%s %s)", r.Status, r.Info.ServerIdentity, r.Info.Version)
}

func (r *ExchangeVersionsResponse) encode(w *writer) {
	w.byte(byte(r.Status))
	r.Info.encode(w)
}

func decodeExchangeVersionsResponse(r *reader) Response {
	return &ExchangeVersionsResponse{
		Status: ExchangeVersionsStatus(r.byte()),
		Info:   decodeCapabilityInfo(r),
	}
}

type DeployCompleted struct {
	Status DeployStatus
}

func (r *DeployCompleted) ResponseType() ResponseType { return TypeDeployCompleted }
func (r *DeployCompleted) String() string             { return "DeployCompleted(" + r.Status.String() + ")" }
func (r *DeployCompleted) encode(w *writer)           { w.byte(byte(r.Status)) }

func decodeDeployCompleted(r *reader) Response {
	return &DeployCompleted{Status: DeployStatus(r.byte())}
}

var responseDecoders = map[ResponseType]func(r *reader) Response{
	TypeExecutionCompleted:         decodeExecutionCompleted,
	TypeMetadataFetched:            decodeMetadataFetched,
	TypeResultRangeFetched:         decodeResultRangeFetched,
	TypeEnvironmentVariablesListed: decodeEnvironmentVariablesListed,
	TypeListFilesResponse:          decodeListFilesResponse,
	TypeGetFilesResponse:           decodeGetFilesResponse,
	TypePutFilesResponse:           decodePutFilesResponse,
	TypeExchangeVersionsResponse:   decodeExchangeVersionsResponse,
	TypeDeployCompleted:            decodeDeployCompleted,
}
