// Command keradb demonstrates opening a store, running document CRUD and
// a vector collection search end to end.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/keradb/keradb/api"
	"github.com/keradb/keradb/vector"
)

func main() {
	const dbPath = "keradb_demo.db"
	defer os.Remove(dbPath)
	defer os.Remove(vector.SidecarPath(dbPath))

	db, err := api.Create(dbPath)
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	defer db.Close()

	fmt.Println("--- documents ---")
	id, err := db.Insert("jobs", map[string]interface{}{
		"type":    "oracle",
		"retry":   5,
		"enabled": true,
	})
	if err != nil {
		log.Fatalf("insert: %v", err)
	}
	fmt.Printf("inserted %s\n", id)

	doc, err := db.FindByID("jobs", id)
	if err != nil {
		log.Fatalf("find: %v", err)
	}
	fmt.Printf("found: %v\n", doc.Body())

	if err := db.Update("jobs", id, map[string]interface{}{
		"type":    "oracle",
		"retry":   8,
		"enabled": false,
	}); err != nil {
		log.Fatalf("update: %v", err)
	}
	fmt.Printf("count in jobs: %d\n", db.Count("jobs"))

	fmt.Println()
	fmt.Println("--- vectors ---")
	cfg := vector.DefaultConfig(8)
	if _, err := db.CreateVectorCollection("docs", cfg); err != nil {
		log.Fatalf("create collection: %v", err)
	}
	if err := db.SetEmbeddingProvider("docs", vector.NewMockEmbeddingProvider(8)); err != nil {
		log.Fatalf("set provider: %v", err)
	}

	texts := []string{
		"database engines and storage formats",
		"approximate nearest neighbor search",
		"weather forecast for tomorrow",
	}
	for _, t := range texts {
		if _, err := db.InsertText("docs", t, map[string]interface{}{"source": "demo"}); err != nil {
			log.Fatalf("insert text: %v", err)
		}
	}

	results, err := db.VectorSearchText("docs", "vector search over an index", 2)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	for _, r := range results {
		fmt.Printf("rank=%d score=%.4f text=%q\n", r.Rank, r.Score, r.Document.Text)
	}

	stats, err := db.VectorStats("docs")
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	fmt.Printf("vectors=%d dimensions=%d layers=%d\n", stats.VectorCount, stats.Dimensions, stats.HNSWLayers)

	if err := db.Sync(); err != nil {
		log.Fatalf("sync: %v", err)
	}
}
