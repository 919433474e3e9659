package jobqueue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// promoter moves delayed and retrying jobs whose run time has come back onto
// their pending list.
func (d *Dispatcher) promoter() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if _, err := d.promoteDue(ctx, time.Now()); err != nil {
				log.Errorf("[JobQueue] Promote delayed jobs: %v", err)
			}
		}
	}
}

func (d *Dispatcher) promoteDue(ctx context.Context, now time.Time) (int, error) {
	promoted := 0
	max := strconv.FormatInt(now.UnixMilli(), 10)
	for name := range d.queues {
		ids, err := d.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
		if err != nil {
			return promoted, err
		}
		for _, id := range ids {
			// ZRem decides which promoter owns the id when several run.
			removed, err := d.client.ZRem(ctx, delayedKey(name), id).Result()
			if err != nil || removed == 0 {
				continue
			}
			job, err := d.GetJob(ctx, id)
			if err != nil {
				log.Warnf("[JobQueue] Delayed job %s vanished: %v", id, err)
				continue
			}
			job.Status = JobStatusPending
			job.RunAt = nil
			job.UpdatedAt = now
			if err := d.saveJob(ctx, job, 0); err != nil {
				return promoted, err
			}
			push := d.client.LPush
			if job.Priority > 0 {
				push = d.client.RPush
			}
			if err := push(ctx, pendingKey(name), id).Err(); err != nil {
				return promoted, err
			}
			promoted++
		}
	}
	return promoted, nil
}

// sweeper recovers jobs whose worker stopped renewing the lease.
func (d *Dispatcher) sweeper() {
	defer d.wg.Done()
	log.Infof("[JobQueue] Lease sweeper running (visibility=%s, interval=%s)", d.opts.VisibilityTimeout, d.opts.SweepInterval)
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-d.stopCh:
			log.Info("[JobQueue] Lease sweeper stopping")
			return
		case <-ticker.C:
			if _, err := d.sweepExpired(ctx, time.Now()); err != nil {
				log.Errorf("[JobQueue] Sweep: %v", err)
			}
		}
	}
}

// sweepExpired requeues every job whose lease ended before now. Jobs that
// already used all attempts go to dead-letter instead. It also clears
// processing entries that never got a lease, which happens when a worker
// dies between the pop and the lease write.
func (d *Dispatcher) sweepExpired(ctx context.Context, now time.Time) (int, error) {
	recovered := 0
	max := strconv.FormatInt(now.UnixMilli(), 10)
	for name := range d.queues {
		ids, err := d.client.ZRangeByScore(ctx, leaseKey(name), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
		if err != nil {
			return recovered, err
		}
		for _, id := range ids {
			removed, err := d.client.ZRem(ctx, leaseKey(name), id).Result()
			if err != nil || removed == 0 {
				continue
			}
			if d.requeueExpired(ctx, name, id, now) {
				recovered++
			}
		}

		inFlight, err := d.client.LRange(ctx, processingKey(name), 0, -1).Result()
		if err != nil {
			return recovered, err
		}
		for _, id := range inFlight {
			if _, err := d.client.ZScore(ctx, leaseKey(name), id).Result(); err == nil {
				continue
			} else if !errors.Is(err, redis.Nil) {
				return recovered, err
			}
			job, err := d.GetJob(ctx, id)
			if err != nil {
				d.client.LRem(ctx, processingKey(name), 1, id)
				continue
			}
			if job.UpdatedAt.Add(d.opts.VisibilityTimeout).After(now) {
				continue
			}
			if d.requeueExpired(ctx, name, id, now) {
				recovered++
			}
		}
	}
	return recovered, nil
}

func (d *Dispatcher) requeueExpired(ctx context.Context, queue, id string, now time.Time) bool {
	d.client.LRem(ctx, processingKey(queue), 1, id)

	job, err := d.GetJob(ctx, id)
	if err != nil {
		return false
	}
	if job.IsTerminal() {
		return false
	}

	if !job.IsRetryable() {
		log.Errorf("[JobQueue] Job %s lost its lease on the last attempt, moving to dead-letter", id)
		job.MarkAsDeadLetter("lease expired")
		d.finish(ctx, job, "dead_letter")
		d.client.LPush(ctx, deadKey(queue), id)
		d.client.LTrim(ctx, deadKey(queue), 0, deadLetterKeep-1)
		d.fireFailed(job, errors.New("lease expired"))
		return true
	}

	log.Warnf("[JobQueue] Recovering stuck job %s on %s (attempt %d/%d)", id, queue, job.Attempts, job.MaxAttempts)
	job.Status = JobStatusPending
	job.ErrorMsg = "recovered by sweeper"
	job.UpdatedAt = now
	if err := d.saveJob(ctx, job, 0); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", id, err)
		return false
	}
	if err := d.client.RPush(ctx, pendingKey(queue), id).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to requeue job %s: %v", id, err)
		return false
	}
	d.client.HIncrBy(ctx, statsKeyPrefix+queue, "recovered", 1)
	return true
}
