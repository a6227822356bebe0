// ABOUTME: Server assembly and lifecycle
// ABOUTME: Wires queues, decoders, the splitter, encoders and brocas together
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ziplantil/exocaster/internal/barrier"
	"github.com/ziplantil/exocaster/internal/broca"
	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/config"
	"github.com/ziplantil/exocaster/internal/decoder"
	"github.com/ziplantil/exocaster/internal/discovery"
	"github.com/ziplantil/exocaster/internal/encoder"
	"github.com/ziplantil/exocaster/internal/jobqueue"
	"github.com/ziplantil/exocaster/internal/lifecycle"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
	"github.com/ziplantil/exocaster/internal/publisher"
	"github.com/ziplantil/exocaster/internal/queue"
	"github.com/ziplantil/exocaster/internal/version"
)

// exitWatchdogDelay bounds how long a hung teardown may linger after
// the main loop returns.
const exitWatchdogDelay = 5 * time.Second

// Server owns every pipeline stage for one configured instance.
type Server struct {
	cfg        config.Config
	log        *slog.Logger
	format     pcm.Format
	state      *lifecycle.State
	instanceID string

	pub      *publisher.Publisher
	splitter *pcmbuf.Splitter
	jobs     *jobqueue.Queue[pcmbuf.Sink]
	commands map[string]decoder.Decoder
	encoders []*encoder.Driver
	brocas   []broca.Broca
	barriers map[string]*barrier.Barrier
	counter  *lifecycle.Counter
	shell    *queue.CommandQueue

	quitOnce sync.Once
}

// New assembles a server from its configuration. Construction opens
// every transport and plugin; any failure aborts startup.
func New(cfg config.Config, log *slog.Logger) (*Server, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("server: instance id: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		log:        log,
		state:      lifecycle.NewState(),
		instanceID: id.String(),
		commands:   map[string]decoder.Decoder{},
		barriers:   map[string]*barrier.Barrier{},
	}
	s.format, err = cfg.PCMBuffer.PCMFormat()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	qEnv := queue.Env{Log: log, InstanceID: s.instanceID}

	var queues []*publisher.PublishQueue
	for i, pc := range cfg.Publish {
		wq, err := queue.NewWriteQueue(pc.Type, pc.Config, qEnv)
		if err != nil {
			return nil, fmt.Errorf("server: publish queue %d: %w", i, err)
		}
		queues = append(queues, publisher.NewPublishQueue(wq, log))
	}
	s.pub = publisher.New(queues)

	s.splitter = pcmbuf.NewSplitter(s.format, cfg.PCMBuffer.BufferBytes(),
		s.pub, log)
	s.jobs = jobqueue.New[pcmbuf.Sink](cfg.Jobs.Queue, s.splitter,
		s.state.ShouldRun)

	decEnv := decoder.Env{
		Log:             log,
		Format:          s.format,
		ResamplerType:   cfg.Resampler.Type,
		ResamplerConfig: cfg.Resampler.Config,
		ShouldRun:       s.state.ShouldRun,
	}
	for name, dc := range cfg.Commands {
		dec, err := decoder.New(dc.Type, dc.Config, decEnv)
		if err != nil {
			return nil, fmt.Errorf("server: command %q: %w", name, err)
		}
		s.commands[name] = dec
	}

	if err := s.buildOutputs(); err != nil {
		return nil, err
	}
	s.counter = lifecycle.NewCounter(len(s.brocas))

	rq, err := queue.NewReadQueue(cfg.Shell.Type, cfg.Shell.Config, qEnv)
	if err != nil {
		return nil, fmt.Errorf("server: shell queue: %w", err)
	}
	s.shell = queue.NewCommandQueue(rq)
	return s, nil
}

// buildOutputs creates one encoder driver per output and one broca per
// configured sink. Outputs naming the same barrier group stay in track
// lockstep.
func (s *Server) buildOutputs() error {
	encEnv := encoder.Env{
		Log:             s.log,
		ResamplerType:   s.cfg.Resampler.Type,
		ResamplerConfig: s.cfg.Resampler.Config,
	}
	bufOpts := pcmbuf.Options{
		Skip:       s.cfg.PCMBuffer.SkipEnabled(),
		SkipMargin: time.Duration(s.cfg.PCMBuffer.SkipMargin * float64(time.Second)),
		ShouldRun:  s.state.ShouldRun,
	}

	brocaIndex := 0
	for i, out := range s.cfg.Outputs {
		var bar *barrier.Barrier
		if out.Barrier != "" {
			bar = s.barriers[out.Barrier]
			if bar == nil {
				bar = barrier.New()
				s.barriers[out.Barrier] = bar
			}
		}

		source := s.splitter.AddBuffer(bufOpts)
		driver, err := encoder.NewDriver(out.Type, out.Config, source, bar,
			s.log, encEnv, encoder.Options{ShouldRun: s.state.ShouldRun})
		if err != nil {
			return fmt.Errorf("server: output %d: %w", i, err)
		}

		streamFormat := driver.Plugin().StreamFormat()
		_, encoded := streamFormat.(pcm.EncodedStreamFormat)
		sendMetadata := encoded
		if out.SendMetadata != nil {
			sendMetadata = *out.SendMetadata
		}
		sendCommand := false
		if out.SendCommand != nil {
			sendCommand = *out.SendCommand
		}
		driver.SetSendOptions(sendMetadata, sendCommand)

		frameRate := driver.Plugin().OutputFrameRate()
		if frameRate == 0 {
			frameRate = s.format.Rate
		}
		for j, bc := range out.Broca {
			ring := buffer.NewPacketRing(out.Buffer)
			driver.AddSink(ring)
			b, err := broca.New(bc.Type, bc.Config, broca.Base{
				Source:    ring,
				Format:    streamFormat,
				FrameRate: frameRate,
				Env: broca.Env{
					Log:       s.log,
					Publisher: s.pub,
					Index:     brocaIndex,
					ShouldRun: s.state.ShouldRun,
				},
			})
			if err != nil {
				return fmt.Errorf("server: output %d broca %d: %w", i, j, err)
			}
			s.brocas = append(s.brocas, b)
			brocaIndex++
		}
		s.encoders = append(s.encoders, driver)
	}
	return nil
}

// InstanceID returns the per-process instance identifier handed to
// queue transports.
func (s *Server) InstanceID() string { return s.instanceID }

func (s *Server) readCommands() {
	s.log.Info("now accepting commands")
	for s.state.AcceptsCommands() {
		cmd, err := s.shell.NextCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				s.state.NoMoreCommands()
				return
			}
			s.log.Warn("discarding malformed command", "error", err)
			continue
		}
		if !s.state.AcceptsCommands() {
			return
		}

		if cmd.Cmd == "quit" || !s.state.ShouldRun() {
			s.state.NoMoreCommands()
			s.shell.Close()
			return
		}

		dec, ok := s.commands[cmd.Cmd]
		if !ok {
			s.log.Warn("unknown command, ignoring", "cmd", cmd.Cmd)
			continue
		}
		job, err := dec.CreateJob(cmd.Param, cmd.Raw)
		if err != nil {
			s.log.Warn("discarding command", "cmd", cmd.Cmd, "error", err)
			continue
		}
		s.jobs.Add(job)
	}
}

// quit tears the pipeline down hard: buffers close, encoders wind down
// mid-track, the publisher flushes what it has.
func (s *Server) quit() {
	s.quitOnce.Do(func() {
		s.splitter.Close()
		for _, bar := range s.barriers {
			bar.Free()
		}
		s.pub.Close()
	})
}

// Run drives the server until a quit command, end of the command
// stream, or a termination signal. Returns once every stage has wound
// down.
func (s *Server) Run() error {
	s.log.Info("starting", "product", version.Product,
		"version", version.Version, "instance", s.instanceID)

	var adv *discovery.Advertiser
	if d := s.cfg.Discovery; d != nil {
		var err error
		adv, err = discovery.Advertise(d.Service, d.Port, s.instanceID, s.log)
		if err != nil {
			s.log.Warn("discovery unavailable", "error", err)
		}
	}
	if adv != nil {
		defer adv.Stop()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var encWG sync.WaitGroup
	for _, driver := range s.encoders {
		encWG.Add(1)
		go func() {
			defer encWG.Done()
			driver.Run()
		}()
	}
	var brocaWG sync.WaitGroup
	for _, b := range s.brocas {
		brocaWG.Add(1)
		go func() {
			defer brocaWG.Done()
			broca.Run(b, s.counter)
		}()
	}

	s.jobs.Start(s.cfg.Jobs.Workers)
	s.pub.Start()

	commandsDone := make(chan struct{})
	go func() {
		defer close(commandsDone)
		s.readCommands()
	}()

	terminated := false
	select {
	case sig := <-signals:
		s.log.Info("received signal, quitting", "signal", sig.String())
		terminated = true
		s.state.Terminate()
		s.state.NoMoreCommands()
		s.shell.Close()
	case <-commandsDone:
	}

	if !terminated && s.state.ShouldRun() {
		// Graceful drain: let queued jobs finish, then close the
		// pipeline front to back. A signal during the drain falls
		// back to the hard path.
		go func() {
			select {
			case sig := <-signals:
				s.log.Info("received signal during drain, terminating",
					"signal", sig.String())
				s.state.Terminate()
				s.quit()
			case <-s.stateDone():
			}
		}()

		s.jobs.Stop()
		s.state.Advance(lifecycle.NoMoreJobs)
		s.splitter.Close()
		for _, bar := range s.barriers {
			bar.Free()
		}
		encWG.Wait()
		for range s.brocas {
			s.counter.Acquire()
		}
		brocaWG.Wait()
		s.pub.Close()
		s.state.Advance(lifecycle.NoMoreEvents)
	} else {
		s.quit()
		s.jobs.Stop()
		encWG.Wait()
		brocaWG.Wait()
	}
	s.state.Advance(lifecycle.Quitting)

	s.pub.Stop()
	s.log.Info("stopping", "product", version.Product,
		"version", version.Version)

	// The command reader may still be parked on a transport that
	// ignores Close; do not let it hold the process open.
	time.AfterFunc(exitWatchdogDelay, func() {
		s.log.Error("exit watchdog: hung up on exit, terminating")
		os.Exit(1)
	})
	return nil
}

// stateDone yields a channel that closes when the server reaches the
// quitting phase, releasing the drain-watchdog goroutine.
func (s *Server) stateDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for s.state.Phase() < lifecycle.Quitting {
			time.Sleep(100 * time.Millisecond)
		}
		close(done)
	}()
	return done
}

// CheckTypes verifies every plugin type named by the configuration
// before anything is constructed, aggregating all failures.
func CheckTypes(cfg config.Config) error {
	var result *multierror.Error
	contains := func(list []string, name string) bool {
		for _, t := range list {
			if t == name {
				return true
			}
		}
		return false
	}

	if !contains(queue.ReadTypes(), cfg.Shell.Type) {
		result = multierror.Append(result,
			fmt.Errorf("unknown shell queue type %q", cfg.Shell.Type))
	}
	for i, pc := range cfg.Publish {
		if !contains(queue.WriteTypes(), pc.Type) {
			result = multierror.Append(result,
				fmt.Errorf("publish queue %d: unknown type %q", i, pc.Type))
		}
	}
	for name, dc := range cfg.Commands {
		if !contains(decoder.Types(), dc.Type) {
			result = multierror.Append(result,
				fmt.Errorf("command %q: unknown decoder type %q", name, dc.Type))
		}
	}
	for i, out := range cfg.Outputs {
		if !contains(encoder.Types(), out.Type) {
			result = multierror.Append(result,
				fmt.Errorf("output %d: unknown encoder type %q", i, out.Type))
		}
		for j, bc := range out.Broca {
			if !contains(broca.Types(), bc.Type) {
				result = multierror.Append(result,
					fmt.Errorf("output %d broca %d: unknown type %q",
						i, j, bc.Type))
			}
		}
	}
	return result.ErrorOrNil()
}
