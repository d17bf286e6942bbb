package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tsawler/go-metal/checkpoints"

	"github.com/dudu/yolocam/internal/detector"
	"github.com/dudu/yolocam/internal/inference"
)

func main() {
	libPath := flag.String("lib", "", "ONNX Runtime shared library (default: bundled lib/)")
	labelPath := flag.String("labels", "", "Label file, one label per line (default: PASCAL VOC)")
	metal := flag.Bool("metal", false, "Also try importing the graph with go-metal")
	flag.Usage = func() {
		fmt.Println("Usage: modelinfo [options] <model.onnx>")
		fmt.Println("\nThis tool prints a model's inputs, outputs and metadata and checks")
		fmt.Println("whether its output can be decoded as a YOLOv1 grid.")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	modelPath := flag.Arg(0)
	fmt.Printf("Inspecting ONNX model: %s\n", modelPath)

	// Check if file exists
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		fmt.Printf("Error: File not found: %s\n", modelPath)
		os.Exit(1)
	}

	fmt.Println("Initializing ONNX Runtime...")
	if err := inference.Initialize(*libPath); err != nil {
		fmt.Printf("❌ %v\n", err)
		fmt.Println("\nYou may need to install ONNX Runtime or pass -lib")
		os.Exit(1)
	}
	defer inference.Shutdown()

	inputs, outputs, err := inference.Describe(modelPath)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nInputs (%d):\n", len(inputs))
	for _, info := range inputs {
		fmt.Printf("  %s: shape=%v, type=%s\n", info.Name, info.Dimensions, info.DataType)
	}

	fmt.Printf("\nOutputs (%d):\n", len(outputs))
	for _, info := range outputs {
		fmt.Printf("  %s: shape=%v, type=%s\n", info.Name, info.Dimensions, info.DataType)
	}

	fmt.Println("\nMetadata:")
	if md, err := inference.Metadata(modelPath); err != nil {
		fmt.Printf("  (Could not read metadata: %v)\n", err)
	} else {
		fmt.Printf("  Producer: %s\n", md.Producer)
		fmt.Printf("  Version: %d\n", md.Version)
		fmt.Printf("  Domain: %s\n", md.Domain)
		fmt.Printf("  Description: %s\n", md.Description)
	}

	labels := detector.VOCLabels
	if *labelPath != "" {
		if labels, err = detector.LoadLabels(*labelPath); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("\nYOLO grid:")
	for _, info := range outputs {
		n := 1
		for _, d := range info.Dimensions {
			if d > 0 {
				n *= int(d)
			}
		}
		grid, err := detector.GridForOutput(n, len(labels), detector.TinyYOLOVOC.BoxesPerCell)
		if err != nil {
			fmt.Printf("  %s: not decodable (%v)\n", info.Name, err)
			continue
		}
		fmt.Printf("  %s: %dx%d cells, %d classes, %d boxes per cell\n",
			info.Name, grid.Side, grid.Side, grid.Classes, grid.BoxesPerCell)
	}

	if !*metal {
		return
	}

	fmt.Println("\nAttempting to import with go-metal...")
	importer := checkpoints.NewONNXImporter()
	checkpoint, err := importer.ImportFromONNX(modelPath)
	if err != nil {
		fmt.Printf("\n❌ FAILED to import ONNX model:\n%v\n", err)
		fmt.Println("\nThis likely means the model uses unsupported operations.")
		os.Exit(1)
	}

	fmt.Println("\n✅ Model imported successfully.")
	fmt.Printf("  Layers: %d\n", len(checkpoint.ModelSpec.Layers))
	fmt.Printf("  Weights: %d tensors\n", len(checkpoint.Weights))
	for i, layer := range checkpoint.ModelSpec.Layers {
		fmt.Printf("  %d: %s (%s)\n", i+1, layer.Name, layer.Type)
	}
}
