package protocol

import "fmt"

// CommandType is the discriminator byte of a client->server message.
type CommandType byte

const (
	TypeExecute                  CommandType = 0x00
	TypeFetchMetadata            CommandType = 0x01
	TypeFetchResultRange         CommandType = 0x02
	TypeListEnvironmentVariables CommandType = 0x03
	TypeListFiles                CommandType = 0x04
	TypeGetFiles                 CommandType = 0x05
	TypePutFiles                 CommandType = 0x06
	TypeExchangeVersions         CommandType = 0x07
	TypeDeploy                   CommandType = 0x08
	TypeCompressed               CommandType = 0xFF
)

var commandTypeNames = map[CommandType]string{
	TypeExecute:                  "Execute",
	TypeFetchMetadata:            "FetchMetadata",
	TypeFetchResultRange:         "FetchResultRange",
	TypeListEnvironmentVariables: "ListEnvironmentVariables",
	TypeListFiles:                "ListFiles",
	TypeGetFiles:                 "GetFiles",
	TypePutFiles:                 "PutFiles",
	TypeExchangeVersions:         "ExchangeVersions",
	TypeDeploy:                   "Deploy",
	TypeCompressed:               "Compressed",
}

func (t CommandType) String() string {
	if s, ok := commandTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("CommandType(0x%02x)", byte(t))
}

// ResponseType is the discriminator byte of a server->client message.
type ResponseType byte

const (
	TypeExecutionCompleted         ResponseType = 0x80
	TypeMetadataFetched            ResponseType = 0x81
	TypeResultRangeFetched         ResponseType = 0x82
	TypeEnvironmentVariablesListed ResponseType = 0x83
	TypeListFilesResponse          ResponseType = 0x84
	TypeGetFilesResponse           ResponseType = 0x85
	TypePutFilesResponse           ResponseType = 0x86
	TypeExchangeVersionsResponse   ResponseType = 0x87
	TypeDeployCompleted            ResponseType = 0x88
)

var responseTypeNames = map[ResponseType]string{
	TypeExecutionCompleted:         "ExecutionCompleted",
	TypeMetadataFetched:            "MetadataFetched",
	TypeResultRangeFetched:         "ResultRangeFetched",
	TypeEnvironmentVariablesListed: "EnvironmentVariablesListed",
	TypeListFilesResponse:          "ListFilesResponse",
	TypeGetFilesResponse:           "GetFilesResponse",
	TypePutFilesResponse:           "PutFilesResponse",
	TypeExchangeVersionsResponse:   "ExchangeVersionsResponse",
	TypeDeployCompleted:            "DeployCompleted",
}

func (t ResponseType) String() string {
	if s, ok := responseTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ResponseType(0x%02x)", byte(t))
}

type ExecutionStatus byte

const (
	StatusCompleted ExecutionStatus = iota
	StatusTimedOut
	StatusCouldNotLaunch
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusCompleted:
		return "Completed"
	case StatusTimedOut:
		return "TimedOut"
	case StatusCouldNotLaunch:
		return "CouldNotLaunch"
	}
	return fmt.Sprintf("ExecutionStatus(%d)", byte(s))
}

type FetchStatus byte

const (
	FetchSuccessful FetchStatus = iota
	FetchFileNotFound
)

func (s FetchStatus) String() string {
	switch s {
	case FetchSuccessful:
		return "Successful"
	case FetchFileNotFound:
		return "FileNotFound"
	}
	return fmt.Sprintf("FetchStatus(%d)", byte(s))
}

type DeployStatus byte

const (
	DeploySuccessful DeployStatus = iota
	DeployFailure
)

func (s DeployStatus) String() string {
	if s == DeploySuccessful {
		return "Successful"
	}
	return "Failure"
}

type GetFilesStatus byte

const (
	GetFilesSuccessful GetFilesStatus = iota
	GetFilesFileNotFound
	GetFilesPermissionDenied
	GetFilesOtherIOError
)

type PutFilesStatus byte

const (
	PutFilesSuccessful PutFilesStatus = iota
	PutFilesPermissionDenied
	PutFilesOtherIOError
	PutFilesPathOutsideRoot
)

type ExchangeVersionsStatus byte

const (
	ExchangeVersionsSuccessful ExchangeVersionsStatus = iota
	ExchangeVersionsClientNotSupported
)

// Platform identifies the operating system family of a peer.
type Platform byte

const (
	PlatformWindows Platform = iota
	PlatformLinux
	PlatformMacOS
	PlatformOther
)

func (p Platform) String() string {
	switch p {
	case PlatformWindows:
		return "Windows"
	case PlatformLinux:
		return "Linux"
	case PlatformMacOS:
		return "MacOS"
	}
	return "Other"
}

// Capability is an optional server feature advertised in CapabilityInfo.
type Capability byte

const (
	CapabilityBase Capability = iota
	CapabilityDeploy
	CapabilityCompressedCommands
	CapabilityPing
)

var capabilityNames = map[Capability]string{
	CapabilityBase:               "Base",
	CapabilityDeploy:             "Deploy",
	CapabilityCompressedCommands: "CompressedCommands",
	CapabilityPing:               "Ping",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Capability(%d)", byte(c))
}
