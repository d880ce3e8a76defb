package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/requisition-fillrate/internal/adapter/storage"
	"github.com/rl1809/requisition-fillrate/internal/config"
	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/core/service"
	"github.com/rl1809/requisition-fillrate/internal/logger"
)

const (
	shipped       = 20
	totalRequests = 50
)

// stress_test fires concurrent receipt writes, then concurrent completions, at
// one requisition and checks that exactly one completion lands and the fill rate
// ends at 100%.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.IsDev())
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatal("failed to open mysql", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	store := storage.NewMySQLAdapter(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate schema", zap.Error(err))
	}
	cache := storage.NewRedisAdapter(rdb, time.Minute)
	locker := storage.NewRedisLocker(rdb, 10*time.Second)

	token := "STRESS-" + uuid.NewString()[:8]
	if err := seed(ctx, store, token); err != nil {
		log.Fatal("failed to seed shipment", zap.Error(err))
	}

	fulfillment := service.NewFulfillmentService(store, locker, cache, log.Named("fulfillment"))
	reports := service.NewReportBuilder(store, service.NewFillRateService(store, store), cache, time.Minute, log.Named("reports"))

	// Counters
	var writeOK, writeRejected, completed, completeRejected atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()
	clerk := domain.NewActor("stress-clerk")

	// Phase 1: concurrent receipt writes. Odd requests try a partial receipt
	// and must be refused.
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			qty := decimal.NewFromInt(shipped)
			if i%2 == 1 {
				qty = decimal.NewFromInt(int64(i % shipped))
			}
			if _, err := fulfillment.SetMoveQuantity(ctx, clerk, token+"-D1-m1", domain.FieldRealizedQuantity, qty); err == nil {
				writeOK.Add(1)
			} else {
				writeRejected.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Phase 2: concurrent completions of the same leg.
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := fulfillment.CompleteDestination(ctx, clerk, token+"-D1")
			switch {
			case err == nil:
				completed.Add(1)
			case errors.Is(err, service.ErrTransferClosed),
				errors.Is(err, service.ErrLockNotObtained):
				completeRejected.Add(1)
			default:
				log.Error("unexpected completion error", zap.Error(err))
				completeRejected.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	records, err := reports.Compute(ctx, token)
	if err != nil {
		log.Fatal("failed to compute fill rate", zap.Error(err))
	}

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Token:               %s\n", token)
	fmt.Printf("Shipped:             %d\n", shipped)
	fmt.Printf("Total Requests:      %d\n", totalRequests)
	fmt.Printf("Writes accepted:     %d\n", writeOK.Load())
	fmt.Printf("Writes rejected:     %d\n", writeRejected.Load())
	fmt.Printf("Completions:         %d\n", completed.Load())
	fmt.Printf("Completions refused: %d\n", completeRejected.Load())
	fmt.Printf("Duration:            %v\n", elapsed)
	fmt.Println("==========================================")

	if completed.Load() == 1 {
		fmt.Println("PASS: exactly one completion succeeded")
	} else {
		fmt.Printf("FAIL: expected 1 completion, got %d\n", completed.Load())
	}

	if len(records) == 1 && records[0].FillRate == 100 {
		fmt.Println("PASS: fill rate is 100%")
	} else {
		fmt.Printf("FAIL: expected a single 100%% record, got %+v\n", records)
	}
}

func seed(ctx context.Context, store *storage.MySQLAdapter, token string) error {
	units := domain.UnitOfMeasure{Name: "Units", Rounding: decimal.RequireFromString("0.01")}
	stock := domain.Location{ID: "stress-stock", Name: "WH/Stock", Usage: domain.UsageInternal}
	transit := domain.Location{ID: "stress-transit", Name: "Transit", Usage: domain.UsageTransit}
	shop := domain.Location{ID: "stress-shop", Name: "SHOP/Stock", Usage: domain.UsageInternal}
	for _, l := range []domain.Location{stock, transit, shop} {
		if err := store.SaveLocation(ctx, l); err != nil {
			return err
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	reqID := uuid.NewString()
	qty := decimal.NewFromInt(shipped)
	if err := store.CreateRequisition(ctx, domain.Requisition{
		ID: reqID, Token: token, State: domain.RequisitionConfirmed, OwnerID: "stress", CreatedAt: now, UpdatedAt: now,
		Lines: []domain.RequisitionLine{{ID: uuid.NewString(), RequisitionID: reqID, ProductID: "stress-product", Quantity: qty, UoM: units, Kind: domain.LineInternalTransfer}},
	}); err != nil {
		return err
	}

	for _, t := range []domain.Transfer{
		{
			ID: token + "-O1", RequisitionToken: token, Source: stock, Destination: transit, State: domain.TransferDone, Sequence: 1, CreatedAt: now,
			Moves: []domain.Move{{ID: token + "-O1-m1", ProductID: "stress-product", Demanded: qty, Realized: qty, UoM: units, State: domain.TransferDone}},
		},
		{
			ID: token + "-D1", RequisitionToken: token, Source: transit, Destination: shop, State: domain.TransferAssigned, Sequence: 2, CreatedAt: now,
			Moves: []domain.Move{{ID: token + "-D1-m1", ProductID: "stress-product", Demanded: qty, Realized: decimal.Zero, UoM: units, State: domain.TransferAssigned}},
		},
	} {
		if err := store.SaveTransfer(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
