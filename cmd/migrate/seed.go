package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"campaignservice/internal/models"
)

// seedCampaignPrefix marks rows the seeder owns so --clear only removes those
const seedCampaignPrefix = "[seed] "

type seedStep struct {
	name    string
	channel models.Channel
	subject *string
	body    string
	html    *string
	prizeID *string
	rules   []seedRule
}

type seedRule struct {
	field    string
	operator string
	value    string
}

type seedCampaign struct {
	name       string
	status     models.CampaignStatus
	schedule   models.ScheduleType
	recurrence *models.RecurrenceRule
	steps      []seedStep
}

func ptr[T any](v T) *T { return &v }

func seedCampaigns() []seedCampaign {
	return []seedCampaign{
		{
			name:     "Welcome Series",
			status:   models.CampaignStatusActive,
			schedule: models.ScheduleOneTime,
			steps: []seedStep{
				{
					name:    "Welcome email",
					channel: models.ChannelEmail,
					subject: ptr("Welcome, {{ user.firstName }}!"),
					body:    "Hi {{ user.firstName }}, thanks for joining us.",
					html:    ptr("<p>Hi {{ user.firstName }}, thanks for joining us.</p>"),
					rules:   []seedRule{{field: "status", operator: "eq", value: `"active"`}},
				},
				{
					name:    "Welcome SMS",
					channel: models.ChannelSMS,
					body:    "Welcome aboard {{ user.firstName }}!",
					rules:   []seedRule{{field: "phone", operator: "exists", value: "true"}},
				},
			},
		},
		{
			name:       "Weekly Rewards",
			status:     models.CampaignStatusActive,
			schedule:   models.ScheduleRecurring,
			recurrence: ptr(models.RecurrenceWeekly),
			steps: []seedStep{
				{
					name:    "Reward push",
					channel: models.ChannelPush,
					body:    "{{ user.firstName }}, your weekly reward is ready: {{ coupon.code }}",
					prizeID: ptr("prize-weekly"),
					rules:   []seedRule{{field: "tier", operator: "in", value: `["gold","silver"]`}},
				},
			},
		},
		{
			name:     "Spring Launch",
			status:   models.CampaignStatusDraft,
			schedule: models.ScheduleOneTime,
			steps: []seedStep{
				{
					name:    "Launch email",
					channel: models.ChannelEmail,
					subject: ptr("Something new for you"),
					body:    "Hello {{ user.firstName }}, take a look at what's new.",
				},
			},
		},
	}
}

func newSeedCmd() *cobra.Command {
	var (
		businessID string
		clearFirst bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo campaigns with steps, templates and targeting rules",
		RunE: withDB(func(cmd *cobra.Command, db *sql.DB) error {
			if clearFirst {
				removed, err := clearSeedData(cmd.Context(), db)
				if err != nil {
					return err
				}
				cmd.Printf("cleared %d seeded campaigns\n", removed)
			}
			created, err := seed(cmd.Context(), db, businessID, time.Now().UTC())
			if err != nil {
				return err
			}
			cmd.Printf("seeded %d campaigns for business %s\n", created, businessID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&businessID, "business", "biz-demo", "business id that owns the seeded campaigns")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "remove previously seeded campaigns first")
	return cmd
}

// clearSeedData removes seeded campaigns; steps and executions cascade
func clearSeedData(ctx context.Context, db *sql.DB) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM campaigns WHERE name LIKE $1`, seedCampaignPrefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete seeded campaigns: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// seed inserts every demo campaign in its own transaction
func seed(ctx context.Context, db *sql.DB, businessID string, now time.Time) (int, error) {
	created := 0
	for _, c := range seedCampaigns() {
		if err := insertCampaign(ctx, db, businessID, c, now); err != nil {
			return created, fmt.Errorf("failed to seed campaign %q: %w", c.name, err)
		}
		created++
	}
	return created, nil
}

func insertCampaign(ctx context.Context, db *sql.DB, businessID string, c seedCampaign, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	campaignID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, business_id, name, status, schedule_type, recurrence_rule, start_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		campaignID, businessID, seedCampaignPrefix+c.name, c.status, c.schedule, c.recurrence, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	for i, s := range c.steps {
		stepID := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO campaign_steps (id, campaign_id, step_order, name, channel, prize_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			stepID, campaignID, i+1, s.name, s.channel, s.prizeID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_templates (id, step_id, channel, subject, body_text, body_html)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), stepID, s.channel, s.subject, s.body, s.html,
		)
		if err != nil {
			return fmt.Errorf("failed to insert template: %w", err)
		}

		for _, r := range s.rules {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO targeting_rules (id, step_id, database, field, operator, value)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), stepID, models.RuleDatabaseUser, r.field, r.operator, r.value,
			)
			if err != nil {
				return fmt.Errorf("failed to insert targeting rule: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
