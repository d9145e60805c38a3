package main

import (
	"context"
	"flag"
	"log"

	"go.mongodb.org/mongo-driver/bson"

	"family-coach-platform/internal/ai"
	"family-coach-platform/internal/config"
	"family-coach-platform/internal/database"
	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
	"family-coach-platform/services"
)

// Ingests one document synchronously, bypassing the queue. Useful for
// seeding a fresh index and for verifying a document before dropping it
// into the sweep directory.
func main() {
	var (
		path   = flag.String("file", "", "document to ingest (.json or .pdf with .toc.json sidecar)")
		report = flag.Bool("report", false, "write an Excel ingestion report")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("usage: ingest -file <document> [-report]")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	dbManager := database.NewManagerFromClient(mongoClient, cfg.DBName)
	defer dbManager.Close(context.Background())

	embedder, err := ai.NewEmbeddingService(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedding service:", err)
	}
	defer embedder.Close()

	vectorStore := services.NewMongoVectorStore(dbManager.Passages(), cfg.VectorIndexName, cfg.VectorSearchEnabled, cfg.CompressPassages)
	tocStore := services.NewMongoTocStore(dbManager.TocEntries())
	extractor := services.NewTOCExtractor(cfg.ExcludedTitles)
	chunker := services.NewChunker(cfg.MinChunkChars, cfg.MaxChunkChars)
	ingestion := services.NewIngestionService(extractor, chunker, embedder, vectorStore, tocStore, nil)

	loader := services.NewDocumentLoader()
	doc, err := loader.Load(*path)
	if err != nil {
		log.Fatal("Failed to load document:", err)
	}

	ctx := context.Background()
	stats, err := ingestion.Ingest(ctx, doc)
	if err != nil {
		log.Fatal("Ingestion failed:", err)
	}

	logger.Info("document ingested",
		"source", stats.SourceDocument,
		"sections", stats.LeafSections,
		"passages", stats.Passages,
		"duration", stats.Duration)

	if *report {
		if err := writeReport(ctx, cfg, dbManager, extractor, doc, stats); err != nil {
			log.Fatal("Failed to write report:", err)
		}
	}
}

func writeReport(ctx context.Context, cfg *config.Config, dbManager *database.Manager, extractor *services.TOCExtractor, doc *models.SourceDocument, stats *services.IngestStats) error {
	entries := extractor.Extract(doc)

	cursor, err := dbManager.Passages().Find(ctx, bson.M{"source_document": doc.Name})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var passages []models.Passage
	for cursor.Next(ctx) {
		var row models.PassageRow
		if err := cursor.Decode(&row); err != nil {
			return err
		}
		passage, err := services.DecodePassageRow(row)
		if err != nil {
			return err
		}
		passages = append(passages, passage)
	}
	if err := cursor.Err(); err != nil {
		return err
	}

	exporter := services.NewExportService(cfg.ReportDir)
	path, err := exporter.ExportIngestionReport(doc.Name, entries, passages, stats)
	if err != nil {
		return err
	}
	logger.Info("report written", "path", path)
	return nil
}
