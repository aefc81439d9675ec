package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/session"
	"github.com/MrWong99/introcoach/pkg/audio"
	"github.com/MrWong99/introcoach/pkg/provider/stt"
)

const (
	// streamFrameBuffer is the PushDevice buffer of a stream connection.
	streamFrameBuffer = 128

	// streamReadLimit bounds one client message. A second of 48 kHz PCM16
	// fits comfortably.
	streamReadLimit = 256 << 10

	streamWriteTimeout = 5 * time.Second
)

// clientMessage is a control message sent by a stream client.
type clientMessage struct {
	Type       string  `json:"type"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Text       string  `json:"text,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Server → client message bodies. Every message carries a "type".

type stateMessage struct {
	Type        string `json:"type"`
	State       string `json:"state"`
	AutoStopped bool   `json:"auto_stopped,omitempty"`
	TakeID      string `json:"take_id,omitempty"`
}

type elapsedMessage struct {
	Type        string `json:"type"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	RemainingMs int64  `json:"remaining_ms"`
}

type waveformMessage struct {
	Type string    `json:"type"`
	Bars []float64 `json:"bars"`
}

type transcriptMessage struct {
	Type      string `json:"type"`
	Committed string `json:"committed"`
	Interim   string `json:"interim"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type stoppedMessage struct {
	Type        string           `json:"type"`
	TakeID      string           `json:"take_id"`
	Transcript  string           `json:"transcript"`
	DurationMs  int64            `json:"duration_ms"`
	Metrics     acoustic.Metrics `json:"metrics"`
	AutoStopped bool             `json:"auto_stopped"`
}

// handleStream runs one recording session over a websocket. Binary messages
// are PCM16 mono audio at the rate announced by the last start message;
// text messages are JSON control messages. The session lives as long as the
// connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	device := audio.NewPushDevice(streamFrameBuffer)
	sess, err := s.app.Sessions().Open(device, "websocket")
	if err != nil {
		if errors.Is(err, app.ErrSessionActive) {
			writeError(w, http.StatusServiceUnavailable, "a recording session is already active")
			return
		}
		writeAppError(w, r, err)
		return
	}
	defer sess.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		logger(r).Warn("stream: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := logger(r).With("session_id", sess.Info().SessionID)
	log.Info("stream: client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		for u := range sess.Updates() {
			msg := encodeUpdate(u)
			if msg == nil {
				continue
			}
			if err := s.send(ctx, conn, msg); err != nil {
				log.Debug("stream: write failed", "err", err)
				return
			}
		}
	}()

	st := &streamState{
		srv:        s,
		sess:       sess,
		device:     device,
		conn:       conn,
		sampleRate: s.app.Config().Session.SampleRate,
	}
	err = st.readLoop(ctx)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		log.Info("stream: client disconnected")
	case errors.Is(err, context.Canceled):
	default:
		log.Warn("stream: read failed", "err", err)
	}

	cancel()
	_ = sess.Close()
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "session closed")
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, msg any) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

type streamState struct {
	srv        *Server
	sess       *app.Session
	device     *audio.PushDevice
	conn       *websocket.Conn
	sampleRate int
	received   time.Duration
}

func (st *streamState) readLoop(ctx context.Context) error {
	for {
		typ, data, err := st.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			st.pushAudio(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			st.reply(ctx, "bad_message", fmt.Errorf("decode message: %w", err))
			continue
		}
		if err := st.handle(ctx, msg); err != nil {
			st.reply(ctx, errorCode(err), err)
		}
	}
}

func (st *streamState) pushAudio(pcm []byte) {
	f := audio.Frame{
		Data:       pcm,
		SampleRate: st.sampleRate,
		Channels:   1,
		Timestamp:  st.received,
	}
	if st.sampleRate > 0 {
		st.received += time.Duration(len(pcm)/2) * time.Second / time.Duration(st.sampleRate)
	}
	st.device.Push(f)
}

func (st *streamState) handle(ctx context.Context, msg clientMessage) error {
	switch msg.Type {
	case "start":
		if msg.SampleRate > 0 {
			st.sampleRate = msg.SampleRate
		}
		st.received = 0
		return st.sess.Start(ctx)
	case "deny":
		st.device.Deny(true)
		return nil
	case "allow":
		st.device.Deny(false)
		return nil
	case "pause":
		return st.sess.Pause()
	case "resume":
		return st.sess.Resume()
	case "stop":
		_, _, err := st.sess.Stop(ctx)
		return err
	case "clear":
		return st.sess.Clear(ctx)
	case "edit":
		return st.sess.Edit(ctx, msg.Text)
	case "transcript":
		if st.srv.relay == nil {
			return errRelayDisabled
		}
		if !st.srv.relay.Push(stt.Transcript{Text: msg.Text, IsFinal: msg.IsFinal, Confidence: msg.Confidence}) {
			return errRelayInactive
		}
		return nil
	}
	return fmt.Errorf("%w %q", errUnknownMessage, msg.Type)
}

var (
	errRelayDisabled  = errors.New("transcript relay is not enabled")
	errUnknownMessage = errors.New("unknown message type")
	errRelayInactive  = errors.New("no transcription is listening")
)

func (st *streamState) reply(ctx context.Context, code string, err error) {
	_ = st.srv.send(ctx, st.conn, errorMessage{Type: "error", Code: code, Message: err.Error()})
}

// errorCode classifies a command error for the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrBusy), errors.Is(err, audio.ErrUnavailable):
		return "device_unavailable"
	case errors.Is(err, session.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, session.ErrClosed):
		return "closed"
	case errors.Is(err, errRelayDisabled), errors.Is(err, errUnknownMessage):
		return "bad_message"
	case errors.Is(err, errRelayInactive):
		return "relay_inactive"
	}
	return "internal"
}

// eventErrorCode classifies an asynchronous session error. Losing the
// capture stream maps like a failed start; anything else came from the
// transcriber.
func eventErrorCode(err error) string {
	if code := errorCode(err); code != "internal" {
		return code
	}
	return "transcription"
}

// encodeUpdate converts a session update to its wire message. It returns
// nil for updates with no wire form.
func encodeUpdate(u app.Update) any {
	switch e := u.Event.(type) {
	case session.StateEvent:
		return stateMessage{Type: "state", State: e.State.String(), AutoStopped: e.AutoStopped, TakeID: u.TakeID}
	case session.ElapsedEvent:
		return elapsedMessage{Type: "elapsed", ElapsedMs: e.Elapsed.Milliseconds(), RemainingMs: e.Remaining.Milliseconds()}
	case session.WaveformEvent:
		bars := e.Bars
		if bars == nil {
			bars = []float64{}
		}
		return waveformMessage{Type: "waveform", Bars: bars}
	case session.TranscriptEvent:
		return transcriptMessage{Type: "transcript", Committed: e.Committed, Interim: e.Interim}
	case session.ErrorEvent:
		return errorMessage{Type: "error", Code: eventErrorCode(e.Err), Message: e.Err.Error()}
	case session.StoppedEvent:
		return stoppedMessage{
			Type:        "stopped",
			TakeID:      u.TakeID,
			Transcript:  e.Result.Transcript,
			DurationMs:  e.Result.Duration.Milliseconds(),
			Metrics:     e.Result.Metrics,
			AutoStopped: e.Result.AutoStopped,
		}
	}
	return nil
}
