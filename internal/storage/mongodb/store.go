// Package mongodb implements the ledger contracts using MongoDB
package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-satdescarga/pkg/ledger"
	"github.com/sirosfoundation/go-satdescarga/pkg/message"
)

// Store implements ledger.Store. PackageStore and PackageIndex expose the
// package contracts on the same connection.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	gridfs *gridfs.Bucket

	// Collections
	requests *mongo.Collection
	packages *mongo.Collection
}

var (
	_ ledger.Store        = (*Store)(nil)
	_ ledger.PackageStore = (*PackageBucket)(nil)
	_ ledger.PackageIndex = (*PackageIndex)(nil)
)

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	GridFSBucket   string
	ChunkSizeBytes int32
}

// requestDoc is the stored form of a ledger entry
type requestDoc struct {
	ID           string    `bson:"_id"`
	RequestType  string    `bson:"request_type"`
	DateFrom     string    `bson:"date_from"`
	DateTo       string    `bson:"date_to"`
	DocumentType string    `bson:"doc_type"`
	IssuerID     string    `bson:"issuer_id"`
	ReceiverID   string    `bson:"receiver_id,omitempty"`
	Folio        string    `bson:"folio,omitempty"`
	SubmittedAt  time.Time `bson:"submitted_at"`
	State        string    `bson:"state"`
	CompletedAt  time.Time `bson:"completed_at,omitempty"`
}

// packageDoc binds a package to the request that produced it
type packageDoc struct {
	ID        string    `bson:"_id"`
	RequestID string    `bson:"request_id"`
	BoundAt   time.Time `bson:"bound_at"`
}

// NewStore connects and prepares collections, indexes and the package bucket
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	// Connect to MongoDB
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	bucketName := cfg.GridFSBucket
	if bucketName == "" {
		bucketName = "packages"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	s := &Store{
		client:   client,
		db:       db,
		gridfs:   bucket,
		requests: db.Collection("requests"),
		packages: db.Collection("packages"),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	// The request key is unique; this is the duplicate-suppression guarantee
	_, err := s.requests.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "request_type", Value: 1},
				{Key: "date_from", Value: 1},
				{Key: "date_to", Value: 1},
				{Key: "doc_type", Value: 1},
				{Key: "issuer_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "state", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating request indexes: %w", err)
	}

	_, err = s.packages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating package indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// ledger.Store implementation

func keyFilter(key ledger.Key) bson.M {
	return bson.M{
		"request_type": key.Type,
		"date_from":    key.DateFrom,
		"date_to":      key.DateTo,
		"doc_type":     key.DocumentType,
		"issuer_id":    key.IssuerID,
	}
}

func (s *Store) Lookup(ctx context.Context, key ledger.Key) (string, bool, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, keyFilter(key), options.FindOne().SetSort(bson.D{{Key: "submitted_at", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.ID, true, nil
}

func (s *Store) Append(ctx context.Context, entry *ledger.Entry) error {
	if err := entry.Params.Validate(); err != nil {
		return err
	}
	if _, err := ledger.ParseState(string(entry.State)); err != nil {
		return err
	}

	key := entry.Key()
	if id, found, err := s.Lookup(ctx, key); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %s (existing id %s)", ledger.ErrDuplicateKey, key, id)
	}

	doc := requestDoc{
		ID:           entry.ID,
		RequestType:  key.Type,
		DateFrom:     key.DateFrom,
		DateTo:       key.DateTo,
		DocumentType: key.DocumentType,
		IssuerID:     key.IssuerID,
		ReceiverID:   entry.Params.ReceiverID,
		Folio:        entry.Params.Folio,
		SubmittedAt:  entry.SubmittedAt,
		State:        string(entry.State),
		CompletedAt:  entry.CompletedAt,
	}
	_, err := s.requests.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		// _id or the unique request key index; the id check tells them apart
		if _, getErr := s.Get(ctx, entry.ID); getErr == nil {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateID, entry.ID)
		}
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateKey, key)
	}
	return err
}

func (s *Store) Update(ctx context.Context, id string, state ledger.State, completed time.Time) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := current.State.CheckTransition(state); err != nil {
		return fmt.Errorf("request %s: %w", id, err)
	}
	if current.State == state {
		return nil
	}

	set := bson.M{"state": string(state)}
	if !completed.IsZero() {
		set["completed_at"] = completed
	}
	// Conditioned on the state read above so a concurrent writer cannot be undone
	res, err := s.requests.UpdateOne(ctx,
		bson.M{"_id": id, "state": string(current.State)},
		bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("request %s: %w: state changed concurrently", id, ledger.ErrInvalidTransition)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*ledger.Entry, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("request %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc.entry()
}

func (d *requestDoc) entry() (*ledger.Entry, error) {
	state, err := ledger.ParseState(d.State)
	if err != nil {
		return nil, &ledger.CorruptionError{Reason: fmt.Sprintf("request %s: %v", d.ID, err)}
	}
	from, err := message.ParseDate(d.DateFrom)
	if err != nil {
		return nil, &ledger.CorruptionError{Reason: fmt.Sprintf("request %s: %v", d.ID, err)}
	}
	to, err := message.ParseDate(d.DateTo)
	if err != nil {
		return nil, &ledger.CorruptionError{Reason: fmt.Sprintf("request %s: %v", d.ID, err)}
	}
	return &ledger.Entry{
		ID: d.ID,
		Params: message.RequestParameters{
			Type:         d.RequestType,
			DateFrom:     from,
			DateTo:       to,
			DocumentType: d.DocumentType,
			IssuerID:     d.IssuerID,
			ReceiverID:   d.ReceiverID,
			Folio:        d.Folio,
		},
		SubmittedAt: d.SubmittedAt,
		State:       state,
		CompletedAt: d.CompletedAt,
	}, nil
}

// PackageBucket implements ledger.PackageStore using GridFS
type PackageBucket struct {
	gridfs *gridfs.Bucket
}

// PackageStore returns the GridFS package store
func (s *Store) PackageStore() *PackageBucket {
	return &PackageBucket{gridfs: s.gridfs}
}

func (s *PackageBucket) Put(ctx context.Context, id string, data []byte) error {
	// Replace any earlier copy so Get always sees the latest download
	if err := s.deletePackage(ctx, id); err != nil {
		return err
	}

	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"package_id": id,
	})
	uploadStream, err := s.gridfs.OpenUploadStream(id+ledger.PackageExt, uploadOpts)
	if err != nil {
		return fmt.Errorf("opening upload stream: %w", err)
	}
	if _, err := uploadStream.Write(data); err != nil {
		_ = uploadStream.Abort()
		return fmt.Errorf("writing package: %w", err)
	}
	if err := uploadStream.Close(); err != nil {
		return fmt.Errorf("closing upload stream: %w", err)
	}
	return nil
}

func (s *PackageBucket) Get(ctx context.Context, id string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.gridfs.DownloadToStreamByName(id+ledger.PackageExt, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, fmt.Errorf("package %s: %w", id, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("reading package: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *PackageBucket) deletePackage(ctx context.Context, id string) error {
	cursor, err := s.gridfs.FindContext(ctx, bson.M{"filename": id + ledger.PackageExt})
	if err != nil {
		return fmt.Errorf("finding package: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var file struct {
			ID any `bson:"_id"`
		}
		if err := cursor.Decode(&file); err != nil {
			return err
		}
		if err := s.gridfs.DeleteContext(ctx, file.ID); err != nil {
			return fmt.Errorf("deleting package: %w", err)
		}
	}
	return cursor.Err()
}

// PackageIndex implements ledger.PackageIndex on a collection
type PackageIndex struct {
	packages *mongo.Collection
}

// PackageIndex returns the package index
func (s *Store) PackageIndex() *PackageIndex {
	return &PackageIndex{packages: s.packages}
}

func (s *PackageIndex) Bind(ctx context.Context, owner string, packageIDs []string) error {
	for _, id := range packageIDs {
		var existing packageDoc
		err := s.packages.FindOne(ctx, bson.M{"_id": id}).Decode(&existing)
		switch {
		case err == nil:
			if existing.RequestID != owner {
				return fmt.Errorf("package %s already bound to request %s", id, existing.RequestID)
			}
			continue
		case !errors.Is(err, mongo.ErrNoDocuments):
			return err
		}
		if _, err := s.packages.InsertOne(ctx, packageDoc{ID: id, RequestID: owner, BoundAt: time.Now()}); err != nil {
			return fmt.Errorf("binding package %s: %w", id, err)
		}
	}
	return nil
}

func (s *PackageIndex) Owner(ctx context.Context, packageID string) (string, error) {
	var doc packageDoc
	err := s.packages.FindOne(ctx, bson.M{"_id": packageID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.OwnerFromName(packageID)
	}
	if err != nil {
		return "", err
	}
	return doc.RequestID, nil
}

func (s *PackageIndex) Packages(ctx context.Context, owner string) ([]string, error) {
	cursor, err := s.packages.Find(ctx, bson.M{"request_id": owner}, options.Find().SetSort(bson.D{{Key: "bound_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []packageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
