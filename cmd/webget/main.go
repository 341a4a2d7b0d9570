package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/KarpelesLab/webfile"
)

func main() {
	directory := flag.StringP("directory", "d", ".", "directory to save downloads into")
	output := flag.StringP("output", "o", "", "override the output file name")
	hls := flag.Bool("hls", false, "treat URLs as HLS playlists")
	ffmpegPath := flag.String("ffmpeg", "", "remux HLS downloads with this ffmpeg binary")
	verbose := flag.BoolP("verbose", "v", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] URL ...\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	webfile.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger())

	var failed bool
	for _, url := range flag.Args() {
		if err := download(url, *directory, *output, *hls, *ffmpegPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", url, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func download(url, directory, output string, hls bool, ffmpegPath string) error {
	opts := []webfile.Option{webfile.WithDirectory(directory)}
	if output != "" {
		opts = append(opts, webfile.WithFilename(output))
	}

	if hls {
		if ffmpegPath != "" {
			ff := webfile.NewFFmpeg()
			ff.Path = ffmpegPath
			opts = append(opts, webfile.WithRemuxer(ff))
		}
		f := webfile.NewHlsFile(url, opts...)
		defer f.Close()
		path, err := f.Download()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}

	f := webfile.NewCachedWebFile(url, opts...)
	defer f.Close()
	path, err := f.Download()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
