package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	// Create indexes
	err = createIndexes(client, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	// Passages collection indexes for reconstruction and re-ingestion
	passagesCollection := db.Collection("passages")
	passageIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "section_id", Value: 1}, {Key: "chunk_index", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "source_document", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "insert_seq", Value: 1}},
		},
	}
	_, err := passagesCollection.Indexes().CreateMany(context.Background(), passageIndexes)
	if err != nil {
		return err
	}

	// TOC entries collection indexes
	tocCollection := db.Collection("toc_entries")
	tocIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "source_document", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "parent_id", Value: 1}},
		},
	}
	_, err = tocCollection.Indexes().CreateMany(context.Background(), tocIndexes)
	if err != nil {
		return err
	}

	return nil
}
