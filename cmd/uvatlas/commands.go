package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/uvatlas/internal/config"
	"github.com/Faultbox/uvatlas/internal/logger"
	"github.com/Faultbox/uvatlas/internal/preview"
	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/formats"
	"github.com/Faultbox/uvatlas/pkg/protocol"
)

func cmdPipe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pipe", flag.ExitOnError)
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	log := logger.Named("pipe")
	log.Info("serving", zap.Int("protocol", protocol.Version))

	// Closing stdin unblocks a pending read once the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			os.Stdin.Close()
		case <-done:
		}
	}()

	err = protocol.Serve(ctx, os.Stdin, os.Stdout, cfg.Options(), log)
	if errors.Is(err, context.Canceled) {
		log.Info("interrupted")
		return nil
	}
	return err
}

func cmdUnwrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unwrap", flag.ExitOnError)
	glb := fs.Bool("glb", false, "Also write a binary glTF")
	png := fs.Bool("png", false, "Also write a PNG preview of every page")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: uvatlas unwrap [options] <in.obj> [out.obj]")
	}
	cfg.Output.GLB = cfg.Output.GLB || *glb
	cfg.Output.Preview = cfg.Output.Preview || *png

	out := ""
	if fs.NArg() > 1 {
		out = fs.Arg(1)
	}
	res, err := unwrapFile(ctx, cfg, fs.Arg(0), out, logger.Named("unwrap"))
	if err != nil {
		return err
	}
	if res.Status == atlas.StatusCancelled {
		return atlas.ErrCancelled
	}
	return nil
}

// outputBase returns the output path without extension for input in.
func outputBase(cfg *config.Config, in, out string) string {
	if out != "" {
		return strings.TrimSuffix(out, filepath.Ext(out))
	}
	dir := cfg.Output.Dir
	if dir == "" {
		dir = filepath.Dir(in)
	}
	name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	return filepath.Join(dir, name+"_unwrapped")
}

// unwrapFile unwraps one OBJ file and writes every configured output. Mesh
// failures are logged; only I/O and parse errors are returned.
func unwrapFile(ctx context.Context, cfg *config.Config, in, out string, log *zap.Logger) (*atlas.Result, error) {
	start := time.Now()
	obj, err := formats.ParseOBJFile(in)
	if err != nil {
		return nil, err
	}
	decls := obj.Decls()

	opts := cfg.Options()
	opts.Logger = log
	res, err := atlas.Generate(ctx, decls, opts)
	if err != nil {
		return nil, err
	}
	for _, e := range multierr.Errors(res.Err()) {
		log.Warn("unwrap problem", zap.String("kind", atlas.ErrorKind(e)), zap.Error(e))
	}

	base := outputBase(cfg, in, out)
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	objPath := base + ".obj"
	if out != "" {
		objPath = out
	}
	if err := writeOBJFile(objPath, decls, res); err != nil {
		return nil, err
	}
	written := []string{objPath}

	if cfg.Output.GLB {
		if err := formats.WriteGLB(base+".glb", decls, res); err != nil {
			return nil, fmt.Errorf("writing GLB: %w", err)
		}
		written = append(written, base+".glb")
	}
	if cfg.Output.Preview {
		paths, err := preview.NewRenderer(filepath.Dir(base), filepath.Base(base)).Save(res, cfg.Output.Layout)
		if err != nil {
			return nil, fmt.Errorf("writing preview: %w", err)
		}
		written = append(written, paths...)
	}

	log.Info("unwrapped",
		zap.String("input", in),
		zap.Int("meshes", len(res.Meshes)),
		zap.Int("pages", len(res.Pages)),
		zap.Float64("texelsPerUnit", res.TexelsPerUnit),
		zap.Strings("outputs", written),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func writeOBJFile(path string, decls []mesh.Decl, res *atlas.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	if err := formats.WriteOBJ(f, decls, res); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	if _, err := setup(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: uvatlas info <in.obj>")
	}

	obj, err := formats.ParseOBJFile(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("File:      %s\n", fs.Arg(0))
	fmt.Printf("Positions: %d\n", len(obj.Positions))
	fmt.Printf("UVs:       %d\n", len(obj.UVs))
	fmt.Printf("Normals:   %d\n", len(obj.Normals))
	fmt.Printf("Materials: %d\n", len(obj.Materials))
	fmt.Printf("Objects:   %d\n", len(obj.Objects))
	fmt.Println()

	for _, d := range obj.Decls() {
		m, err := mesh.Build(d)
		if err != nil {
			fmt.Printf("  %-20s malformed: %v\n", d.Name, err)
			continue
		}
		s := m.Stats()
		fmt.Printf("  %-20s %6d verts %6d faces %4d components  area %.4g\n",
			d.Name, s.Vertices, s.Faces, s.Components, s.Area)
		fmt.Printf("  %-20s %6d boundary %4d non-manifold %4d normal seams %4d texture seams\n",
			"", s.BoundaryEdges, s.NonManifoldEdges, s.NormalSeams, s.TextureSeams)
	}
	return nil
}

func cmdConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	format := fs.String("format", config.FormatYAML, "Output format: yaml or toml")
	output := fs.String("o", "", "Save to this file instead of printing")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	if *output != "" {
		if err := cfg.SaveTo(*output); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved %s\n", *output)
		return nil
	}
	data, err := cfg.Encode(*format)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
