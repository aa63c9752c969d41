package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"herald/pkg/migrations"
)

type MongoTemplateRepository struct {
	collection *mongo.Collection
}

func NewMongoTemplateRepository(db *mongo.Database) *MongoTemplateRepository {
	return &MongoTemplateRepository{collection: db.Collection(migrations.TemplatesCollection)}
}

func (r *MongoTemplateRepository) Get(ctx context.Context, tenantID, ref string) (*Template, error) {
	start := time.Now()

	var tmpl Template
	err := r.collection.FindOne(ctx, bson.M{"tenant_id": tenantID, "ref": ref}).Decode(&tmpl)
	if errors.Is(err, mongo.ErrNoDocuments) {
		observeQuery("mongodb", "get_template", start, nil)
		return nil, ErrTemplateNotFound
	}
	observeQuery("mongodb", "get_template", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tmpl, nil
}

// Put creates or replaces the tenant's template with the same ref.
func (r *MongoTemplateRepository) Put(ctx context.Context, tmpl *Template) error {
	start := time.Now()
	tmpl.UpdatedAt = time.Now()

	filter := bson.M{"tenant_id": tmpl.TenantID, "ref": tmpl.Ref}
	_, err := r.collection.ReplaceOne(ctx, filter, tmpl, options.Replace().SetUpsert(true))
	observeQuery("mongodb", "put_template", start, err)
	if err != nil {
		return fmt.Errorf("failed to put template: %w", err)
	}
	return nil
}

func (r *MongoTemplateRepository) List(ctx context.Context, tenantID string) ([]Template, error) {
	start := time.Now()

	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID}, options.Find().SetSort(bson.D{{Key: "ref", Value: 1}}))
	if err != nil {
		observeQuery("mongodb", "list_templates", start, err)
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer cursor.Close(ctx)

	templates := []Template{}
	err = cursor.All(ctx, &templates)
	observeQuery("mongodb", "list_templates", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	return templates, nil
}

func (r *MongoTemplateRepository) Delete(ctx context.Context, tenantID, ref string) error {
	start := time.Now()

	res, err := r.collection.DeleteOne(ctx, bson.M{"tenant_id": tenantID, "ref": ref})
	observeQuery("mongodb", "delete_template", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
