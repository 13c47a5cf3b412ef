package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	appconfig "content-gate/config"
	"content-gate/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

type BackupConfig struct {
	StoreAPIURL   string `envconfig:"STORE_API_URL" required:"true"`
	StoreToken    string `envconfig:"STORE_TOKEN" required:"true"`
	StoreBranch   string `envconfig:"STORE_BRANCH" default:"main"`
	IndexPath     string `envconfig:"INDEX_PATH" default:"data/blog-index.json"`
	PostsFolder   string `envconfig:"POSTS_FOLDER" default:"blog/posts"`
	UploadsFolder string `envconfig:"UPLOADS_FOLDER" default:"images/uploads"`

	BackupBucket    string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint  string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion    string `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups     int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	log.Println("Starte Backup-Prozess...")

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	ctx := context.Background()
	store := storage.NewClient(&appconfig.Config{
		StoreAPIURL:     cfg.StoreAPIURL,
		StoreToken:      cfg.StoreToken,
		StoreBranch:     cfg.StoreBranch,
		StoreMaxRetries: 3,
	}, zap.NewNop())

	// 1. Snapshot aller Store-Objekte erstellen
	snapshot, err := createSnapshot(ctx, store, cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des Snapshots: %v", err)
	}

	// 2. S3-Client erstellen
	s3Client, err := createS3Client(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	// 3. Snapshot nach S3 hochladen
	fileName := fmt.Sprintf("content-%s.tar.gz", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := uploadToS3(ctx, s3Client, cfg, fileName, snapshot); err != nil {
		log.Fatalf("Fehler beim Hochladen nach S3: %v", err)
	}
	log.Printf("Snapshot erfolgreich nach s3://%s/%s hochgeladen", cfg.BackupBucket, fileName)

	// 4. Alte Backups rotieren
	if err := rotateBackups(ctx, s3Client, cfg); err != nil {
		log.Fatalf("Fehler bei der Rotation alter Backups: %v", err)
	}

	log.Println("Backup-Prozess erfolgreich abgeschlossen.")
}

// createSnapshot liest Index, Artikel-Dokumente und Uploads aus dem Store und
// packt sie in ein gzip-komprimiertes Tar-Archiv.
func createSnapshot(ctx context.Context, store storage.ObjectStore, cfg BackupConfig) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	paths := []string{cfg.IndexPath}
	for _, folder := range []string{cfg.PostsFolder, cfg.UploadsFolder} {
		entries, err := store.List(ctx, folder)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type != "" && e.Type != "file" {
				continue
			}
			paths = append(paths, e.Path)
		}
	}

	count := 0
	for _, p := range paths {
		content, _, err := store.Get(ctx, p)
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("Objekt %s fehlt, wird übersprungen", p)
			continue
		}
		if err != nil {
			return nil, err
		}
		header := &tar.Header{
			Name:    p,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Now().UTC(),
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, err
		}
		if _, err := tarWriter.Write(content); err != nil {
			return nil, err
		}
		count++
	}
	log.Printf("%d Objekte im Snapshot", count)

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func createS3Client(cfg BackupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: cfg.BackupEndpoint,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.BackupAccessKey, cfg.BackupSecretKey, "")),
		config.WithRegion(cfg.BackupRegion),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

func uploadToS3(ctx context.Context, client *s3.Client, cfg BackupConfig, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cfg.BackupBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func rotateBackups(ctx context.Context, client *s3.Client, cfg BackupConfig) error {
	output, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.BackupBucket),
	})
	if err != nil {
		return err
	}

	if len(output.Contents) <= cfg.KeepBackups {
		log.Printf("Weniger als %d Backups vorhanden, keine Rotation nötig.", cfg.KeepBackups)
		return nil
	}

	sort.Slice(output.Contents, func(i, j int) bool {
		return output.Contents[i].LastModified.After(*output.Contents[j].LastModified)
	})

	for _, obj := range output.Contents[cfg.KeepBackups:] {
		log.Printf("Lösche altes Backup: %s", *obj.Key)
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.BackupBucket),
			Key:    obj.Key,
		})
		if err != nil {
			log.Printf("Fehler beim Löschen von %s: %v", *obj.Key, err)
		}
	}

	return nil
}
