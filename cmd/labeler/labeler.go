package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/nn"
	"github.com/cyclopcam/labeler/server"
	"github.com/cyclopcam/labeler/server/config"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("labeler", "Image annotation server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "labeler.json"})
	listen := parser.String("l", "listen", &argparse.Options{Help: "HTTP listen address, eg :8080. Overrides the config file."})
	format := parser.Selector("f", "format", []string{"json", "yolo", "coco"}, &argparse.Options{Help: "Label file format. Overrides the config file."})
	predictorURL := parser.String("p", "predictor", &argparse.Options{Help: "URL of the inference service. Overrides the config file."})
	progressDB := parser.String("", "progressdb", &argparse.Options{Help: "SQLite file that records labeling progress. Overrides the config file."})
	classFile := parser.String("", "classes", &argparse.Options{Help: "Text file with one class name per line, to seed the class list"})
	modelConfig := parser.String("", "model-config", &argparse.Options{Help: "Model config JSON, whose classes seed the class list"})
	cocoClasses := parser.Flag("", "coco-classes", &argparse.Options{Help: "Seed the class list with the 80 COCO classes"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *format != "" {
		cfg.Format = *format
	}
	if *predictorURL != "" {
		cfg.PredictorURL = *predictorURL
	}
	if *progressDB != "" {
		cfg.ProgressDB = *progressDB
	}

	logger, err := logs.NewLog()
	if err != nil {
		panic(err)
	}

	s, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	if err := seedClasses(s.Registry(), *classFile, *modelConfig, *cocoClasses); err != nil {
		logger.Errorf("%v", err)
		s.Shutdown()
		os.Exit(1)
	}
	if n := s.Registry().Len(); n != 0 {
		logger.Infof("Starting with %v classes", n)
	}

	s.ListenForKillSignals()
	if err := s.ListenHTTP(cfg.Listen); err != nil && err != http.ErrServerClosed {
		fmt.Printf("%v\n", err)
	}
}

func seedClasses(reg *classes.Registry, classFile, modelConfig string, coco bool) error {
	if classFile != "" {
		names, err := nn.LoadClassFile(classFile)
		if err != nil {
			return fmt.Errorf("Error loading class file %v: %w", classFile, err)
		}
		reg.MergeNames(names)
	}
	if modelConfig != "" {
		mc, err := nn.LoadModelConfig(modelConfig)
		if err != nil {
			return fmt.Errorf("Error loading model config %v: %w", modelConfig, err)
		}
		reg.MergeNames(mc.Classes)
	}
	if coco {
		reg.MergeNames(nn.COCOClasses)
	}
	return nil
}
