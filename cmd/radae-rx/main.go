// Command radae-rx is the streaming receive-side modem for the RADAE
// neural speech-over-HF waveform: it reads interleaved complex float32
// baseband samples from stdin and writes decoded 36-float feature frames
// to stdout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/wT1J/radae-rx/internal/fec"
	"github.com/wT1J/radae-rx/internal/radae"
	"github.com/wT1J/radae-rx/internal/rxlog"
	"github.com/wT1J/radae-rx/internal/telemetry"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "radae-rx: fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin *os.File, stdout *os.File) error {
	fs := pflag.NewFlagSet("radae-rx", pflag.ContinueOnError)

	latentDim := fs.IntP("latent-dim", "l", 80, "real symbols per latent vector")
	bottleneck := fs.IntP("bottleneck", "b", 3, "encoder bottleneck regime {1,2,3}")
	noBPF := fs.Bool("no-bpf", false, "disable band-pass input conditioning")
	auxData := fs.Bool("auxdata", false, "enable the 21st-feature unique-word bit tally")
	disableUnsync := fs.Float64("disable-unsync", 0, "test-only: any value > 0 suppresses all sync->search transitions from the first frame; the SECS value itself is not used")
	foffErr := fs.Float64("foff-err", 0, "test-only: one-shot frequency error (Hz) injected on first sync")
	fmaxTarget := fs.Float64("fmax-target", 0, "acquisition test target frequency offset (Hz), used with --acq-test")
	acqTest := fs.Bool("acq-test", false, "acquisition-only test mode: search and track, emit no features")
	berTestPath := fs.String("ber-test", "", "path to a reference latent log; report BER against recovered latents")
	writeLatentPath := fs.String("write-latent", "", "path to write recovered latents to, for offline analysis")
	telemetryAddr := fs.String("telemetry-addr", "", "address to serve the diagnostic telemetry WebSocket on, e.g. :8088")
	phaseMagEq := fs.Bool("phase-mag-eq", false, "use phase+magnitude equalisation instead of the default phase-only")
	verbosity := fs.IntP("verbose", "v", 0, "stderr diagnostic verbosity {0,1,2}")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "radae-rx - RADAE neural-OFDM receive-side modem\n\n")
		fmt.Fprintf(os.Stderr, "Usage: radae-rx [options] <model-path>\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	rxlog.SetVerbosity(*verbosity)

	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("radae-rx: missing required model path argument")
	}
	modelPath := fs.Arg(0)

	bn := radae.Bottleneck(*bottleneck)
	if bn != radae.Bottleneck1 && bn != radae.Bottleneck2 && bn != radae.Bottleneck3 {
		return fmt.Errorf("radae-rx: --bottleneck must be 1, 2 or 3, got %d", *bottleneck)
	}

	decoder, err := radae.LoadFileDecoder(modelPath, *latentDim)
	if err != nil {
		return fmt.Errorf("radae-rx: loading model %q: %w", modelPath, err)
	}

	cfg := radae.DefaultDriverConfig()
	cfg.LatentDim = *latentDim
	cfg.Bottleneck = bn
	cfg.NoBPF = *noBPF
	cfg.AuxData = *auxData
	cfg.DisableUnsync = *disableUnsync > 0
	cfg.FoffErr = *foffErr
	cfg.PhaseMagEq = *phaseMagEq

	driver, err := radae.NewDriver(cfg, decoder, rxlog.Log)
	if err != nil {
		return fmt.Errorf("radae-rx: building driver: %w", err)
	}

	if *telemetryAddr != "" {
		hub := telemetry.NewHub()
		driver.Fsm().Sink = hub
		go func() {
			if err := telemetry.ListenAndServe(*telemetryAddr, hub); err != nil {
				rxlog.Log.Warn().Err(err).Msg("radae-rx: telemetry server exited")
			}
		}()
	}

	var latentWriter *fec.LatentLogWriter
	if *writeLatentPath != "" {
		f, err := os.Create(*writeLatentPath)
		if err != nil {
			return fmt.Errorf("radae-rx: --write-latent: %w", err)
		}
		defer f.Close()
		latentWriter, err = fec.NewLatentLogWriter(f, *latentDim)
		if err != nil {
			return fmt.Errorf("radae-rx: --write-latent: %w", err)
		}
		defer latentWriter.Close()
		driver.Fsm().LatentSink = latentWriter.WriteVector
	}

	if *acqTest {
		res, err := driver.RunAcqTest(stdin, *fmaxTarget, 1000)
		if err != nil {
			return fmt.Errorf("radae-rx: acq-test: %w", err)
		}
		fmt.Fprintf(os.Stderr, "acq-test: searched=%d target=%.2fHz achieved=%.2fHz lockedAtFrame=%d\n",
			res.FramesSearched, res.FmaxTarget, res.FmaxAchieved, res.LockedAtFrame)
		return nil
	}

	if *berTestPath != "" {
		refFile, err := os.Open(*berTestPath)
		if err != nil {
			return fmt.Errorf("radae-rx: --ber-test: %w", err)
		}
		defer refFile.Close()
		refReader, err := fec.NewLatentLogReader(refFile, *latentDim)
		if err != nil {
			return fmt.Errorf("radae-rx: --ber-test: %w", err)
		}
		var reference [][]float64
		for {
			block, err := refReader.ReadBlock()
			if err != nil {
				break
			}
			reference = append(reference, block...)
		}
		recovered, err := driver.RunCollectingLatents(stdin)
		if err != nil {
			return fmt.Errorf("radae-rx: --ber-test: %w", err)
		}
		result := radae.RunBERTest(recovered, reference, 8)
		fmt.Fprintf(os.Stderr, "ber-test: shift=%d errors=%d/%d BER=%.6f\n",
			result.BestShift, result.BitErrors, result.TotalBits, result.BER)
		return nil
	}

	return driver.Run(stdin, stdout)
}
