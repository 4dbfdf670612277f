// Command parlo-ctl drives a running parlod over the message bus: start and
// stop listening or recording, speak text, tune the voice, pin the situation,
// fetch suggestions, watch the event stream, and export the phrase history.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/history"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "status":
		err = runStatus(os.Args[2:])
	case "speak":
		err = runSpeak(os.Args[2:])
	case "listen":
		err = runListen(os.Args[2:])
	case "record":
		err = runRecord(os.Args[2:])
	case "suggest":
		err = runSuggest(os.Args[2:])
	case "predict":
		err = runPredict(os.Args[2:])
	case "voice":
		err = runVoice(os.Args[2:])
	case "mute":
		err = runToggle(os.Args[2:], false)
	case "unmute":
		err = runToggle(os.Args[2:], true)
	case "situation":
		err = runSituation(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: parlo-ctl <command> [flags]

commands:
  status                print the coordinator state and recent utterances
  speak <text>          speak a phrase
  listen start|stop     control live recognition
  record start|stop     control push-to-talk capture
  suggest               fetch phrase suggestions
  predict <text>        predict phrases for partially typed text
  voice                 set voice gender, pitch and rate
  mute | unmute         toggle speech output
  situation [activity]  pin the activity label, no argument clears it
  watch                 stream daemon events to stdout
  export                dump the phrase history as JSONL
  version               print version`)
}

type busFlags struct {
	servers string
	timeout time.Duration
}

func registerBusFlags(fs *flag.FlagSet) *busFlags {
	f := &busFlags{}
	fs.StringVar(&f.servers, "servers", "nats://localhost:4222", "Comma-separated bus server URLs")
	fs.DurationVar(&f.timeout, "timeout", 5*time.Second, "Request timeout")
	return f
}

func (f *busFlags) connect() (*bus.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg := config.BusConfig{
		Servers:        strings.Split(f.servers, ","),
		ConnectTimeout: 2000,
	}
	return bus.Connect(context.Background(), cfg, logger)
}

func publish(f *busFlags, subject string, payload any) error {
	client, err := f.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return client.Publish(subject, data)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	f := registerBusFlags(fs)
	fs.Parse(args)

	client, err := f.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	msg, err := client.Request(protocol.SubjectSessionStatus, nil, f.timeout)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}

	var reply protocol.StatusReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("malformed status reply: %w", err)
	}

	fmt.Printf("state:   %s\n", reply.State)
	if reply.ActiveID != "" {
		fmt.Printf("active:  %s\n", reply.ActiveID)
	}
	fmt.Printf("voice:   %s pitch=%.2f rate=%.2f\n", reply.Voice.Gender, reply.Voice.Pitch, reply.Voice.Rate)
	fmt.Printf("speech:  %s\n", enabledWord(reply.SpeechEnabled))
	for i, text := range reply.Recent {
		if i == 0 {
			fmt.Println("recent:")
		}
		fmt.Printf("  %s\n", text)
	}
	return nil
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "muted"
}

func runSpeak(args []string) error {
	fs := flag.NewFlagSet("speak", flag.ExitOnError)
	f := registerBusFlags(fs)
	gender := fs.String("gender", "", "Voice gender override")
	pitch := fs.Float64("pitch", 0, "Voice pitch override")
	rate := fs.Float64("rate", 0, "Voice rate override")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf("speak requires text")
	}

	req := protocol.SpeakRequest{Text: text}
	if *gender != "" || *pitch != 0 || *rate != 0 {
		req.Voice = &protocol.VoiceSettings{Gender: *gender, Pitch: *pitch, Rate: *rate}
	}
	return publish(f, protocol.SubjectSpeak, req)
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	f := registerBusFlags(fs)
	fs.Parse(args)

	switch fs.Arg(0) {
	case "start":
		return publish(f, protocol.SubjectListenStart, struct{}{})
	case "stop":
		return publish(f, protocol.SubjectListenStop, struct{}{})
	default:
		return fmt.Errorf("listen requires 'start' or 'stop'")
	}
}

func runRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	f := registerBusFlags(fs)
	fs.Parse(args)

	switch fs.Arg(0) {
	case "start":
		return publish(f, protocol.SubjectRecordStart, struct{}{})
	case "stop":
		return publish(f, protocol.SubjectRecordStop, struct{}{})
	default:
		return fmt.Errorf("record requires 'start' or 'stop'")
	}
}

func runSuggest(args []string) error {
	fs := flag.NewFlagSet("suggest", flag.ExitOnError)
	f := registerBusFlags(fs)
	category := fs.String("category", "", "Phrase category to fetch")
	text := fs.String("text", "", "Free text to predict continuations for")
	limit := fs.Int("limit", 0, "Maximum phrases to return")
	fs.Parse(args)

	return requestSuggestions(f, protocol.SuggestRequest{Category: *category, Text: *text, Limit: *limit})
}

func runPredict(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	f := registerBusFlags(fs)
	limit := fs.Int("limit", 0, "Maximum phrases to return")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf("predict requires text")
	}
	return requestSuggestions(f, protocol.SuggestRequest{Text: text, Limit: *limit})
}

func requestSuggestions(f *busFlags, req protocol.SuggestRequest) error {
	client, err := f.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg, err := client.Request(protocol.SubjectSuggestRequest, data, f.timeout)
	if err != nil {
		return fmt.Errorf("suggest request failed: %w", err)
	}

	var reply protocol.SuggestResponse
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("malformed suggest reply: %w", err)
	}
	for _, phrase := range reply.Phrases {
		fmt.Println(phrase)
	}
	return nil
}

func runVoice(args []string) error {
	fs := flag.NewFlagSet("voice", flag.ExitOnError)
	f := registerBusFlags(fs)
	gender := fs.String("gender", "female", "Voice gender")
	pitch := fs.Float64("pitch", 1.0, "Voice pitch")
	rate := fs.Float64("rate", 1.0, "Voice rate")
	fs.Parse(args)

	return publish(f, protocol.SubjectVoiceSet, protocol.VoiceSettings{
		Gender: *gender,
		Pitch:  *pitch,
		Rate:   *rate,
	})
}

func runToggle(args []string, enabled bool) error {
	fs := flag.NewFlagSet("toggle", flag.ExitOnError)
	f := registerBusFlags(fs)
	fs.Parse(args)

	return publish(f, protocol.SubjectVoiceToggle, protocol.SpeakToggle{Enabled: enabled})
}

func runSituation(args []string) error {
	fs := flag.NewFlagSet("situation", flag.ExitOnError)
	f := registerBusFlags(fs)
	fs.Parse(args)

	activity := strings.TrimSpace(strings.Join(fs.Args(), " "))
	return publish(f, protocol.SubjectSituationSet, protocol.SituationSet{Activity: activity})
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	f := registerBusFlags(fs)
	fs.Parse(args)

	client, err := f.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	subjects := []string{
		protocol.SubjectSessionState,
		protocol.SubjectNotice,
		protocol.SubjectTranscriptPartial,
		protocol.SubjectTranscriptFinal,
		protocol.SubjectListenStatus,
		protocol.SubjectRecordStatus,
		protocol.SubjectRecordText,
		protocol.SubjectSpeakStatus,
		protocol.SubjectSituationSnapshot,
	}
	for _, subject := range subjects {
		if _, err := client.Subscribe(subject, func(msg *nats.Msg) {
			fmt.Printf("%s %s\n", msg.Subject, msg.Data)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "./data/history.db", "Path to the phrase history database")
	fs.Parse(args)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := history.Open(context.Background(), config.HistoryConfig{
		Path:          *dbPath,
		RetentionMode: "persistent",
	}, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	n, err := store.ExportJSONL(context.Background(), os.Stdout)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d phrases\n", n)
	return nil
}
