package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"image-stand/internal"
	"image-stand/internal/embedding"
	"image-stand/internal/similarity"
	"image-stand/internal/storage"
)

func main() {
	image1Path := flag.String("img1", "", "Path to first image")
	image2Path := flag.String("img2", "", "Path to second image")
	encoderName := flag.String("encoder", embedding.BackendIcon, "Embedding encoder: clip, gemini, icon or none")
	sensitivity := flag.Float64("sensitivity", similarity.DefaultSensitivity, "Comparison rigour in [0.1, 10]")
	flag.Parse()

	if *image1Path == "" || *image2Path == "" {
		log.Fatal("Usage: compare_images -img1 <path1> -img2 <path2> [-encoder icon] [-sensitivity 1.0]")
	}

	_ = godotenv.Load(".env")
	cfg, err := internal.LoadConfig()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	cfg.EncoderBackend = *encoderName

	fmt.Printf("Comparing images:\n  Image 1: %s\n  Image 2: %s\n\n", *image1Path, *image2Path)

	data1, err := os.ReadFile(*image1Path)
	if err != nil {
		log.Fatalf("Failed to read image 1: %v", err)
	}
	data2, err := os.ReadFile(*image2Path)
	if err != nil {
		log.Fatalf("Failed to read image 2: %v", err)
	}

	fp1, err := storage.Fingerprint(data1)
	if err != nil {
		log.Fatalf("Image 1: %v", err)
	}
	fp2, err := storage.Fingerprint(data2)
	if err != nil {
		log.Fatalf("Image 2: %v", err)
	}

	fmt.Printf("1. FILE HASH COMPARISON:\n")
	fmt.Printf("   Image 1 SHA256: %s\n", fp1.SHA256)
	fmt.Printf("   Image 2 SHA256: %s\n", fp2.SHA256)
	if fp1.SHA256 == fp2.SHA256 {
		fmt.Printf("   Result: ✓ IDENTICAL FILES\n\n")
	} else {
		fmt.Printf("   Result: ✗ Different files\n\n")
	}

	hammingDist := storage.HammingDistance(fp1.ImageHash, fp2.ImageHash)
	fmt.Printf("2. PERCEPTUAL HASH COMPARISON:\n")
	fmt.Printf("   Image 1 pHash: %016x\n", fp1.ImageHash)
	fmt.Printf("   Image 2 pHash: %016x\n", fp2.ImageHash)
	fmt.Printf("   Hamming Distance: %d bits\n\n", hammingDist)

	loader, err := embedding.NewLoader(cfg.Encoder())
	if err != nil {
		log.Fatalf("Encoder: %v", err)
	}
	encoder, err := embedding.NewModelHandle(*encoderName, loader)
	if err != nil {
		log.Fatalf("Encoder: %v", err)
	}
	defer encoder.Close()

	engine, err := similarity.NewEngine(encoder, cfg.Similarity(), nil, nil)
	if err != nil {
		log.Fatalf("Engine: %v", err)
	}

	fmt.Printf("3. SIMILARITY SCORES (sensitivity %.2f, encoder %s):\n", *sensitivity, *encoderName)
	for _, method := range []similarity.Method{similarity.MethodStructural, similarity.MethodEmbedding, similarity.MethodHybrid} {
		m := method
		res, err := engine.Compare(similarity.Request{Image1: data1, Image2: data2, Method: &m, Sensitivity: sensitivity})
		if err != nil {
			log.Fatalf("Compare: %v", err)
		}
		if !res.Success {
			fmt.Printf("   %-10s failed: %s\n", method, *res.Error)
			continue
		}
		fmt.Printf("   %-10s score %7.4f  %6.2f%%  (via %s)\n", method, *res.SimilarityScore, *res.SimilarityPercentage, res.MethodUsed())
	}
	if !encoder.Available() {
		fmt.Printf("   encoder %s unavailable, embedding scores fell back to ssim\n", *encoderName)
	}
}
