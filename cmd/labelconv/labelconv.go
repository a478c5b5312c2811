package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/convert"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("labelconv", "Convert the labels of an image folder or dataset between json, yolo and coco")
	root := parser.String("d", "dataset", &argparse.Options{Help: "Image folder or dataset root", Required: true})
	from := parser.Selector("f", "from", []string{"json", "yolo", "coco"}, &argparse.Options{Help: "Source label format", Required: true})
	to := parser.Selector("t", "to", []string{"json", "yolo", "coco"}, &argparse.Options{Help: "Destination label format", Required: true})
	createClasses := parser.Flag("", "create-classes", &argparse.Options{Help: "Create classes that the source labels reference, but which are not in classes.json"})
	minConfidence := parser.Float("", "min-confidence", &argparse.Options{Help: "Drop predicted labels below this confidence", Default: 0.0})
	requireLabel := parser.Flag("", "require-label", &argparse.Options{Help: "Skip images that have no labels"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	opt := convert.Options{
		MinConfidence: float32(*minConfidence),
		RequireLabel:  *requireLabel,
	}
	opt.From, err = codec.ParseFormat(*from)
	check(err)
	opt.To, err = codec.ParseFormat(*to)
	check(err)
	if *createClasses {
		opt.Unmapped = codec.UnmappedCreate
	}

	stats, err := convert.Convert(logger, *root, opt)
	check(err)
	fmt.Printf("%v images, %v labels written. %v labels dropped, %v images skipped\n", stats.Images, stats.Labels, stats.Dropped, stats.Skipped)
}
