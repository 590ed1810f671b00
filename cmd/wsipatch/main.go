// Command-line interface for sampling whole-slide images into a patch store
// and inspecting what was stored.

package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/janelia-flyem/wsipatch/dataset"
	"github.com/janelia-flyem/wsipatch/slide"
	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	_ "github.com/janelia-flyem/wsipatch/storage/badger"
	_ "github.com/janelia-flyem/wsipatch/storage/chunked"
	_ "github.com/janelia-flyem/wsipatch/storage/flatfile"
)

const Version = "0.3.0"

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Overrides of the TOML configuration.
	storageType = flag.String("storage", "", "")
	level       = flag.Int("level", -1, "")
	rowsPerTxn  = flag.Int("rows", 0, "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")
)

const helpMessage = `
wsipatch samples fixed-size patches from pyramidal whole-slide images into a patch store

Usage: wsipatch [options] <command>

      -storage    =string   Storage engine, overriding the config's storage_type.
      -level      =number   Pyramid level to sample, overriding the config.
      -rows       =number   Tile rows per store write, overriding rows_per_txn.
      -cpuprofile =string   Write CPU profile to this file.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	sample    <config.toml>
	dims      <config.toml> <slide>
	preview   <config.toml> <slide> <level> <output.png>
	enumerate <config.toml> <slide>
	get       <config.toml> <slide> <x> <y> [output.png]

Slides are named by their file stem within the configured slide_directory.
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() { fmt.Print(helpMessage) }
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		wsi.Verbose = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Capture ctrl+c and other interrupts and stop sampling between rows.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		wsi.Shutdown()
		os.Exit(1)
	}
	wsi.Shutdown()
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("blank command")
	}
	switch args[0] {
	case "about":
		fmt.Print(about())
		return nil
	case "sample":
		return DoSample(ctx, args)
	case "dims":
		return DoDims(args)
	case "preview":
		return DoPreview(args)
	case "enumerate":
		return DoEnumerate(args)
	case "get":
		return DoGet(args)
	default:
		return fmt.Errorf("unknown command %q, try 'wsipatch help'", args[0])
	}
}

func about() string {
	var b strings.Builder
	fmt.Fprintf(&b, "wsipatch %s\n\nStorage engines:\n", Version)
	for _, name := range storage.EngineNames() {
		e, _ := storage.GetEngine(name)
		fmt.Fprintf(&b, "  %-14s %-8s %s\n", name, e.GetSemVer(), e.GetDescription())
	}
	return b.String()
}

// manager loads the TOML configuration named by the command's first argument,
// applies flag overrides, and sets up logging.
func manager(args []string, nargs int, usage string) (*dataset.Manager, error) {
	if len(args) < nargs {
		return nil, fmt.Errorf("usage: wsipatch %s", usage)
	}
	c, err := dataset.LoadConfig(args[1])
	if err != nil {
		return nil, err
	}
	if *storageType != "" {
		c.Store.StorageType = *storageType
	}
	if *level >= 0 {
		c.Dataset.Level = *level
	}
	if *rowsPerTxn > 0 {
		c.Dataset.RowsPerTxn = *rowsPerTxn
	}
	if err := c.Logging.SetLogger(); err != nil {
		return nil, err
	}
	return dataset.NewManager(c, slide.OpenImage)
}

// DoSample performs the "sample" command, storing patches of every slide.
func DoSample(ctx context.Context, args []string) error {
	m, err := manager(args, 2, "sample <config.toml>")
	if err != nil {
		return err
	}
	report, err := m.Run(ctx)
	if report != nil {
		fmt.Print(report)
	}
	return err
}

// DoDims performs the "dims" command, listing the pyramid levels of a slide.
func DoDims(args []string) error {
	m, err := manager(args, 3, "dims <config.toml> <slide>")
	if err != nil {
		return err
	}
	levels, err := m.SlideDimensions(args[2])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d levels\n", args[2], len(levels))
	for _, l := range levels {
		fmt.Printf("  level %2d: %6d x %-6d pixels, %5d x %-5d tiles\n", l.Level, l.Width, l.Height, l.XTiles, l.YTiles)
	}
	return nil
}

// DoPreview performs the "preview" command, writing the center patch of a level.
func DoPreview(args []string) error {
	m, err := manager(args, 5, "preview <config.toml> <slide> <level> <output.png>")
	if err != nil {
		return err
	}
	lv, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("bad level %q: %v", args[3], err)
	}
	win, err := m.SamplePatch(args[2], lv)
	if err != nil {
		return err
	}
	return writePNG(args[4], win.Width, win.Height, win.Channels, win.Pix)
}

func openStore(m *dataset.Manager) (storage.Backend, error) {
	b, err := m.OpenStore()
	if err != nil {
		return nil, err
	}
	wsi.Infof("Opened store %s\n", b)
	return b, nil
}

// DoEnumerate performs the "enumerate" command, listing every stored patch of
// a slide with its label.
func DoEnumerate(args []string) error {
	m, err := manager(args, 3, "enumerate <config.toml> <slide>")
	if err != nil {
		return err
	}
	b, err := openStore(m)
	if err != nil {
		return err
	}
	defer b.Close()
	patches, err := b.EnumerateAll(args[2])
	if err != nil {
		return err
	}
	counts := make(map[int32]int)
	for _, p := range patches {
		fmt.Printf("%d %d %d\n", p.X, p.Y, p.Label)
		counts[p.Label]++
	}
	labels := make([]int, 0, len(counts))
	for label := range counts {
		labels = append(labels, int(label))
	}
	sort.Ints(labels)
	fmt.Fprintf(os.Stderr, "%d patches in slide %s\n", len(patches), args[2])
	for _, label := range labels {
		fmt.Fprintf(os.Stderr, "  label %d: %d\n", label, counts[int32(label)])
	}
	return nil
}

// DoGet performs the "get" command, reading one stored patch.
func DoGet(args []string) error {
	m, err := manager(args, 5, "get <config.toml> <slide> <x> <y> [output.png]")
	if err != nil {
		return err
	}
	x, err := strconv.ParseUint(args[3], 10, 32)
	if err != nil {
		return fmt.Errorf("bad x %q: %v", args[3], err)
	}
	y, err := strconv.ParseUint(args[4], 10, 32)
	if err != nil {
		return fmt.Errorf("bad y %q: %v", args[4], err)
	}
	b, err := openStore(m)
	if err != nil {
		return err
	}
	defer b.Close()
	p, err := b.ReadByKey(args[2], uint32(x), uint32(y))
	if err != nil {
		return err
	}
	fmt.Println(p)
	if len(args) > 5 {
		return writePNG(args[5], int(p.Size), int(p.Size), int(p.Channels), p.Data)
	}
	return nil
}

func writePNG(filename string, width, height, channels int, pix []byte) error {
	var img image.Image
	switch channels {
	case 1:
		img = &image.Gray{Pix: pix, Stride: width, Rect: image.Rect(0, 0, width, height)}
	case 3:
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		for i, j := 0, 0; i+2 < len(pix); i, j = i+3, j+4 {
			rgba.Pix[j], rgba.Pix[j+1], rgba.Pix[j+2], rgba.Pix[j+3] = pix[i], pix[i+1], pix[i+2], 255
		}
		img = rgba
	default:
		return fmt.Errorf("can't write %d-channel pixels as PNG", channels)
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %dx%d patch to %s\n", width, height, filename)
	return nil
}
