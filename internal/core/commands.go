package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/e7canasta/tcam-core/internal/control"
)

// callbacks binds control commands to the camera API.
func (c *Camera) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnTakePicture:     c.takePicture,
		OnStartRecording:  c.startRecording,
		OnStopRecording:   c.StopRecording,
		OnListCatalog:     c.listCatalog,
		OnGetFile:         c.GetFile,
		OnGetVideo:        c.GetVideo,
		OnPlay:            c.Play,
		OnPause:           c.Pause,
		OnStopPlayback:    c.StopPlayback,
		OnDeleteFile:      c.DeleteFile,
		OnDeleteDirectory: c.DeleteDirectory,
		OnFormatMedia:     c.FormatMedia,
		OnGetStatus:       c.getStatus,
		ClassifyError:     func(err error) string { return Classify(err).String() },
	}
}

// Dispatcher returns the command dispatcher shared by MQTT and HTTP.
func (c *Camera) Dispatcher() *control.Dispatcher {
	return c.dispatcher
}

func (c *Camera) takePicture(ctx context.Context) (map[string]interface{}, error) {
	sess, err := c.TakePicture(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session": sess.ID,
		"dir":     sess.Dir,
		"file":    sess.File,
	}, nil
}

func (c *Camera) startRecording(ctx context.Context, delayMs, count int) (map[string]interface{}, error) {
	delay := time.Duration(-1)
	if delayMs >= 0 {
		delay = time.Duration(delayMs) * time.Millisecond
	}
	sess, err := c.StartRecording(ctx, delay, count)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session":  sess.ID,
		"dir":      sess.Dir,
		"file":     sess.File,
		"delay_ms": sess.Delay.Milliseconds(),
		"count":    sess.Count,
	}, nil
}

func (c *Camera) listCatalog(ctx context.Context, dirIndex int) (map[string]interface{}, error) {
	names, err := c.ListCatalog(ctx, dirIndex)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"dir_index": dirIndex,
		"names":     names,
	}, nil
}

// getStatus returns the status snapshot as a generic map
func (c *Camera) getStatus(ctx context.Context) map[string]interface{} {
	st, err := c.Status(ctx)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	data, err := json.Marshal(st)
	if err != nil {
		slog.Error("failed to marshal status", "error", err)
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		slog.Error("failed to unmarshal status", "error", err)
		return nil
	}
	return out
}
