package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/rotisserie/eris"

	"github.com/seek-ret/fwbundle/internal/archive"
	"github.com/seek-ret/fwbundle/internal/datatypes"
	"github.com/seek-ret/fwbundle/internal/firmware"
	"github.com/seek-ret/fwbundle/internal/path"
	"github.com/seek-ret/fwbundle/internal/remote"
)

var args struct {
	URL       string        `arg:"-u,--url,env:BUNDLE_URL,required" help:"firmware bundle archive url"`
	Targets   []string      `arg:"-t,--target,separate" help:"target prefix to download, may be repeated"`
	OutputDir string        `arg:"-o,--output-dir,env:OUTPUT_DIR" default:"."`
	List      bool          `arg:"-l,--list" help:"list the targets of the bundle"`
	Entries   bool          `arg:"-e,--entries" help:"list the files stored in the bundle"`
	ProxyURL  string        `arg:"--proxy-url,env:PROXY_URL"`
	Timeout   time.Duration `arg:"--timeout,env:REQUEST_TIMEOUT" default:"60s"`
}

func listTargets(ctx context.Context, resolver *firmware.TargetResolver) error {
	targets, err := resolver.Targets(ctx, args.URL)
	if err != nil {
		return err
	}
	for _, target := range targets {
		fmt.Printf("%-30s %s\n", target.Name, target.Code)
	}
	return nil
}

func listEntries(ctx context.Context, indexes *archive.Cache) error {
	index, err := indexes.Get(ctx, args.URL)
	if err != nil {
		return err
	}
	for _, entry := range index.Entries() {
		if entry.IsDir() {
			continue
		}
		fmt.Printf("%-50s %10d\n", entry.Name, entry.Size)
	}
	return nil
}

func writeBinaries(outputDir string, binaries []datatypes.FirmwareBinary) error {
	wg := sync.WaitGroup{}
	errs := make([]error, len(binaries))
	for i, binary := range binaries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			localFilePath := filepath.Join(outputDir, binary.Entry)
			if err := os.WriteFile(localFilePath, binary.Data, 0644); err != nil {
				errs[i] = eris.Wrapf(err, "failed writing %s", localFilePath)
				return
			}
			log.Printf("wrote %s (%d bytes)", localFilePath, len(binary.Data))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func main() {
	parser := arg.MustParse(&args)
	if !args.List && !args.Entries && len(args.Targets) == 0 {
		parser.Fail("one of --list, --entries or --target is required")
	}

	ctx := context.Background()
	indexes := archive.NewCache(remote.NewFactory(nil,
		remote.WithProxyURL(args.ProxyURL),
		remote.WithTimeout(args.Timeout),
	))

	if args.Entries {
		if err := listEntries(ctx, indexes); err != nil {
			log.Fatalf("Failed listing entries of %s: %+v", args.URL, err)
		}
	}
	if args.List {
		if err := listTargets(ctx, firmware.NewTargetResolver(indexes)); err != nil {
			log.Fatalf("Failed listing targets of %s: %+v", args.URL, err)
		}
	}
	if len(args.Targets) == 0 {
		return
	}

	outputDir, err := path.GetOrCreateAbsolutePath(args.OutputDir)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	binaries, err := firmware.NewFetcher(indexes).FetchMany(ctx, args.URL, args.Targets)
	if err != nil {
		log.Fatalf("Failed fetching firmware from %s: %+v", args.URL, err)
	}
	if err := writeBinaries(outputDir, binaries); err != nil {
		log.Fatalf("%+v", err)
	}
}
