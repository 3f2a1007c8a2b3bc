package control

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaptinlin/jsonschema"
)

//go:embed command.schema.json
var commandSchema []byte

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Category   string                 `json:"category,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CommandCallbacks contains callback functions for commands.
// A nil callback reports the command as not implemented.
type CommandCallbacks struct {
	OnTakePicture     func(ctx context.Context) (map[string]interface{}, error)
	OnStartRecording  func(ctx context.Context, delayMs, count int) (map[string]interface{}, error)
	OnStopRecording   func(ctx context.Context) error
	OnListCatalog     func(ctx context.Context, dirIndex int) (map[string]interface{}, error)
	OnGetFile         func(ctx context.Context, consumer, dir, name string) error
	OnGetVideo        func(ctx context.Context, consumer, dir, name string) error
	OnPlay            func(ctx context.Context, consumer string) error
	OnPause           func(ctx context.Context, consumer string) error
	OnStopPlayback    func(ctx context.Context, consumer string) error
	OnDeleteFile      func(ctx context.Context, dir, name string) error
	OnDeleteDirectory func(ctx context.Context, dir string) error
	OnFormatMedia     func(ctx context.Context) error
	OnGetStatus       func(ctx context.Context) map[string]interface{}

	// ClassifyError names the failure category reported with an error response
	ClassifyError func(err error) string
}

// Dispatcher validates raw commands against the command schema and runs them.
// It is shared by the MQTT handler and the HTTP API.
type Dispatcher struct {
	schema    *jsonschema.Schema
	callbacks CommandCallbacks
	now       func() time.Time
}

// NewDispatcher compiles the command schema.
func NewDispatcher(callbacks CommandCallbacks) (*Dispatcher, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(commandSchema)
	if err != nil {
		return nil, fmt.Errorf("compile command schema: %w", err)
	}
	return &Dispatcher{schema: schema, callbacks: callbacks, now: time.Now}, nil
}

// Execute validates payload, decodes it and runs the command.
func (d *Dispatcher) Execute(ctx context.Context, payload []byte) Response {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		return d.stamp(Response{CommandAck: "unknown", Status: StatusError, Error: "invalid JSON"})
	}

	result := d.schema.ValidateJSON(payload)
	if !result.IsValid() {
		slog.Warn("control command rejected", "command", cmd.Command, "errors", fmt.Sprintf("%v", result.Errors))
		ack := cmd.Command
		if ack == "" {
			ack = "unknown"
		}
		return d.stamp(Response{
			CommandAck: ack,
			Status:     StatusError,
			Error:      fmt.Sprintf("schema validation failed: %v", result.Errors),
		})
	}

	return d.Run(ctx, cmd)
}

// Run executes an already decoded command.
func (d *Dispatcher) Run(ctx context.Context, cmd Command) Response {
	resp := d.handleCommand(ctx, cmd)
	slog.Debug("control command handled", "command", cmd.Command, "status", resp.Status)
	return d.stamp(resp)
}

func (d *Dispatcher) stamp(resp Response) Response {
	resp.Timestamp = d.now().UTC().Format(time.RFC3339Nano)
	return resp
}

// handleCommand executes a command
func (d *Dispatcher) handleCommand(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}
	cb := d.callbacks

	notImplemented := func() Response {
		resp.Status = StatusError
		resp.Error = cmd.Command + " not implemented"
		return resp
	}
	result := func(data map[string]interface{}, err error) Response {
		if err != nil {
			resp.Status = StatusError
			resp.Error = err.Error()
			if cb.ClassifyError != nil {
				resp.Category = cb.ClassifyError(err)
			}
			return resp
		}
		resp.Status = StatusSuccess
		resp.Data = data
		return resp
	}

	consumer := stringParam(cmd.Params, "consumer", "network")
	dir := stringParam(cmd.Params, "dir", "")
	name := stringParam(cmd.Params, "name", "")

	switch cmd.Command {
	case "take_picture":
		if cb.OnTakePicture == nil {
			return notImplemented()
		}
		return result(cb.OnTakePicture(ctx))

	case "start_recording":
		if cb.OnStartRecording == nil {
			return notImplemented()
		}
		return result(cb.OnStartRecording(ctx,
			intParam(cmd.Params, "delay_ms", -1),
			intParam(cmd.Params, "count", -1)))

	case "stop_recording":
		if cb.OnStopRecording == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"recording": false}, cb.OnStopRecording(ctx))

	case "list_catalog":
		if cb.OnListCatalog == nil {
			return notImplemented()
		}
		return result(cb.OnListCatalog(ctx, intParam(cmd.Params, "dir_index", -1)))

	case "get_file":
		if cb.OnGetFile == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"consumer": consumer, "dir": dir, "name": name},
			cb.OnGetFile(ctx, consumer, dir, name))

	case "get_video":
		if cb.OnGetVideo == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"consumer": consumer, "dir": dir, "name": name},
			cb.OnGetVideo(ctx, consumer, dir, name))

	case "play":
		if cb.OnPlay == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"consumer": consumer, "playing": true}, cb.OnPlay(ctx, consumer))

	case "pause":
		if cb.OnPause == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"consumer": consumer, "playing": false}, cb.OnPause(ctx, consumer))

	case "stop_playback":
		if cb.OnStopPlayback == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"consumer": consumer}, cb.OnStopPlayback(ctx, consumer))

	case "delete_file":
		if cb.OnDeleteFile == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"dir": dir, "name": name, "deleted": true}, cb.OnDeleteFile(ctx, dir, name))

	case "delete_directory":
		if cb.OnDeleteDirectory == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"dir": dir, "deleted": true}, cb.OnDeleteDirectory(ctx, dir))

	case "format_media":
		if cb.OnFormatMedia == nil {
			return notImplemented()
		}
		return result(map[string]interface{}{"formatted": true}, cb.OnFormatMedia(ctx))

	case "get_status":
		if cb.OnGetStatus == nil {
			return notImplemented()
		}
		return result(cb.OnGetStatus(ctx), nil)

	default:
		resp.Status = StatusError
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
		return resp
	}
}

func stringParam(params map[string]interface{}, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}

// intParam reads a JSON number; def is returned when the key is absent.
func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
