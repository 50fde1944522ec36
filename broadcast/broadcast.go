// Package broadcast turns controller progress into records for whoever displays them.
package broadcast

import (
	"fmt"
	"io"
	"sync"

	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bytedance/sonic"
)

// Record is one progress update of the upload identified by Key.
// Percent is upload.IndeterminatePercent while initiating, finalizing or after the upload ended.
type Record struct {
	Key     string `json:"key"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Sink consumes progress records.
type Sink interface {
	Publish(Record) error
}

// UploadedMessage is the terminal message of a finished upload.
func UploadedMessage(location string) string {
	return fmt.Sprintf("File successfully uploaded to %s", location)
}

// Terminal messages of stopped uploads.
const (
	InterruptedMessage = "User interrupted"
	AbortedMessage     = "Upload aborted"
)

// ErrorMessage is the terminal message of a failed upload.
func ErrorMessage(err error) string {
	return fmt.Sprintf("Error: %s", err)
}

// LogSink writes records through a logger.
type LogSink struct {
	logger log.Logger
}

// NewLogSink returns a sink printing records through logger.
func NewLogSink(logger log.Logger) LogSink {
	return LogSink{logger: logger}
}

// Publish prints the record, with its percent when it is known.
func (s LogSink) Publish(r Record) error {
	if r.Percent == upload.IndeterminatePercent {
		s.logger.Printf("%s", r.Message)
		return nil
	}
	s.logger.Printf("[%3d%%] %s", r.Percent, r.Message)
	return nil
}

// JSONLinesSink writes every record as one JSON document per line.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc sonic.Encoder
}

// NewJSONLinesSink returns a sink encoding records to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: sonic.ConfigStd.NewEncoder(w)}
}

// Publish encodes the record. It is safe for concurrent use.
func (s *JSONLinesSink) Publish(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(r)
}

// Observer adapts a sink to upload.Observer. Repeated records with the same
// percent and message are dropped, publish failures are logged.
type Observer struct {
	key    string
	sink   Sink
	logger log.Logger

	mu   sync.Mutex
	last *Record
}

var _ upload.Observer = (*Observer)(nil)

// NewObserver returns an observer publishing records of the upload identified by key.
func NewObserver(key string, sink Sink, logger log.Logger) *Observer {
	return &Observer{key: key, sink: sink, logger: logger}
}

// OnProgress implements upload.Observer.
func (o *Observer) OnProgress(percent int, message string) {
	o.publish(Record{Key: o.key, Percent: percent, Message: message})
}

// Finish publishes the terminal record for the outcome of upload.Controller.Start.
func (o *Observer) Finish(location string, err error) {
	o.publish(Record{Key: o.key, Percent: upload.IndeterminatePercent, Message: FinishMessage(location, err)})
}

// FinishMessage describes how an upload ended.
func FinishMessage(location string, err error) string {
	if err == nil {
		return UploadedMessage(location)
	}
	if upload.IsInterrupted(err) {
		return InterruptedMessage
	}
	if upload.IsAborted(err) {
		return AbortedMessage
	}
	return ErrorMessage(err)
}

func (o *Observer) publish(r Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.last != nil && *o.last == r {
		return
	}
	if err := o.sink.Publish(r); err != nil {
		o.logger.Warnf("Failed to publish progress: %s", err)
		return
	}
	o.last = &r
}
