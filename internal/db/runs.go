package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vic_tracker/internal/models"
)

// StartRun records a pending run and returns its id.
func (d *MongoDB) StartRun(ctx context.Context, jobType models.JobType, username string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	run := models.ScrapeRun{
		ID:             uuid.NewString(),
		AuthorUsername: username,
		JobType:        jobType,
		Status:         models.RunPending,
		StartedAt:      time.Now().UTC(),
	}
	if _, err := d.scrapeLog.InsertOne(ctx, run); err != nil {
		return "", eris.Wrap(err, "start run")
	}
	return run.ID, nil
}

// FinishRun moves a pending run to its terminal status. A run that already
// left pending is not touched again.
func (d *MongoDB) FinishRun(ctx context.Context, id string, status models.RunStatus, items int, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set := bson.M{
		"status":         status,
		"completedAt":    time.Now().UTC(),
		"itemsProcessed": items,
	}
	if errMsg != "" {
		set["errorMessage"] = errMsg
	}
	res, err := d.scrapeLog.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.RunPending},
		bson.M{"$set": set})
	if err != nil {
		return eris.Wrapf(err, "finish run %s", id)
	}
	if res.MatchedCount == 0 {
		return eris.Errorf("run %s is not pending", id)
	}
	return nil
}

// LatestRun returns the most recent run of a job type, nil if none.
func (d *MongoDB) LatestRun(ctx context.Context, jobType models.JobType) (*models.ScrapeRun, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var run models.ScrapeRun
	err := d.scrapeLog.FindOne(ctx,
		bson.M{"jobType": jobType},
		options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: -1}})).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "latest run")
	}
	return &run, nil
}
