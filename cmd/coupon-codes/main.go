// Command coupon-codes bulk-issues coupon codes for a promotion. Codes are
// either generated from a prefix/pattern or imported from a gzip-compressed
// file of one code per line. Existing codes are pre-screened with a bloom
// filter so most uniqueness checks never touch the database.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
)

type options struct {
	databaseURL    string
	promotionID    string
	count          int
	prefix         string
	pattern        string
	visibility     string
	maxRedemptions int
	perCustomerMax int
	codesFile      string
	outFile        string
	workers        int
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.promotionID, "promotion", "", "promotion ID the new coupons belong to")
	flag.IntVar(&opts.count, "count", 1000, "number of codes to generate")
	flag.StringVar(&opts.prefix, "prefix", "", "code prefix, e.g. SUMMER")
	flag.StringVar(&opts.pattern, "pattern", "", "code pattern with {RAND} or {RAND:n} tokens")
	flag.StringVar(&opts.visibility, "visibility", "public", "coupon visibility: public or assigned")
	flag.IntVar(&opts.maxRedemptions, "max-redemptions", 0, "global usage cap per code (0 = unlimited)")
	flag.IntVar(&opts.perCustomerMax, "per-customer-max", 0, "per-customer usage cap per code (0 = unlimited)")
	flag.StringVar(&opts.codesFile, "codes-file", "", "import codes from a gzip file instead of generating")
	flag.StringVar(&opts.outFile, "out", "", "write issued codes to a gzip file")
	flag.IntVar(&opts.workers, "workers", 4, "concurrent insert workers")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.promotionID == "" {
		slog.Error("promotion ID is required: set --promotion")
		os.Exit(1)
	}
	if opts.visibility != string(coupon.VisibilityPublic) && opts.visibility != string(coupon.VisibilityAssigned) {
		slog.Error("visibility must be public or assigned", slog.String("got", opts.visibility))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon issuance failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon issuance completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(postgres.NewDB(pool))

	slog.Info("loading existing codes into bloom filter")

	checker, err := newBloomChecker(ctx, repo)
	if err != nil {
		return errors.Wrap(err, "build bloom filter")
	}

	var codes []string
	if opts.codesFile != "" {
		codes, err = importCodes(ctx, opts.codesFile, checker)
	} else {
		codes, err = generateCodes(ctx, opts, checker)
	}
	if err != nil {
		return err
	}

	slog.Info("codes prepared", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("nothing to insert")
		return nil
	}

	if err := insertCoupons(ctx, repo, opts, codes); err != nil {
		return errors.Wrap(err, "insert coupons")
	}

	if opts.outFile != "" {
		if err := exportCodes(opts.outFile, codes); err != nil {
			return errors.Wrap(err, "export codes")
		}
		slog.Info("codes exported", slog.String("path", opts.outFile))
	}

	return nil
}

// bloomChecker answers code-existence queries with a bloom filter in front of
// the database. A bloom miss is a definite "free"; a bloom hit falls through
// to the database. Newly accepted codes are added to the filter so a batch
// cannot collide with itself.
type bloomChecker struct {
	filter *bloom.BloomFilter
	repo   *postgres.CouponRepository
}

var _ coupon.CodeChecker = (*bloomChecker)(nil)

func newBloomChecker(ctx context.Context, repo *postgres.CouponRepository) (*bloomChecker, error) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

	var count int
	err := repo.ListCodes(ctx, func(code string) error {
		filter.AddString(coupon.NormalizeCode(code))
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("bloom filter loaded", slog.Int("existing_codes", count))

	return &bloomChecker{filter: filter, repo: repo}, nil
}

func (c *bloomChecker) CodeExists(ctx context.Context, code string) (bool, error) {
	if !c.filter.TestString(coupon.NormalizeCode(code)) {
		return false, nil
	}
	return c.repo.CodeExists(ctx, code)
}

func (c *bloomChecker) accept(code string) {
	c.filter.AddString(coupon.NormalizeCode(code))
}

// generateCodes produces opts.count unique codes from the prefix/pattern.
func generateCodes(ctx context.Context, opts options, checker *bloomChecker) ([]string, error) {
	gen := coupon.NewGenerator(checker, coupon.GeneratorConfig{})

	codes := make([]string, 0, opts.count)
	for i := range opts.count {
		code, err := gen.GenerateUnique(ctx, opts.prefix, opts.pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "generate code %d of %d", i+1, opts.count)
		}
		checker.accept(code)
		codes = append(codes, code)

		if (i+1)%progressEvery == 0 {
			slog.Info("generation progress", slog.Int("generated", i+1), slog.Int("total", opts.count))
		}
	}

	return codes, nil
}

// importCodes streams a gzip file of one code per line, dropping codes that
// already exist.
func importCodes(ctx context.Context, path string, checker *bloomChecker) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var (
		codes   []string
		skipped int
		total   uint64
	)

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		code := coupon.NormalizeCode(scanner.Text())
		if code == "" {
			continue
		}

		total++
		if total%progressEvery == 0 {
			slog.Info("import progress", slog.Uint64("codes", total))
		}

		exists, err := checker.CodeExists(ctx, code)
		if err != nil {
			return nil, errors.Wrapf(err, "check code %s", code)
		}
		if exists {
			skipped++
			continue
		}

		checker.accept(code)
		codes = append(codes, code)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("import complete", slog.Int("accepted", len(codes)), slog.Int("skipped_existing", skipped))

	return codes, nil
}

// insertCoupons writes coupons concurrently. A code that collides at insert
// time (bloom false negative is impossible, but a concurrent writer is not)
// is logged and skipped.
func insertCoupons(ctx context.Context, repo *postgres.CouponRepository, opts options, codes []string) error {
	slog.Info("inserting coupons", slog.Int("count", len(codes)), slog.Int("workers", opts.workers))

	started := time.Now()
	work := make(chan string)

	g, ctx := errgroup.WithContext(ctx)
	for range opts.workers {
		g.Go(func() error {
			for code := range work {
				err := repo.Create(ctx, coupon.Coupon{
					ID:             uuid.NewString(),
					PromotionID:    opts.promotionID,
					Code:           code,
					Visibility:     coupon.Visibility(opts.visibility),
					Active:         true,
					MaxRedemptions: opts.maxRedemptions,
					PerCustomerMax: opts.perCustomerMax,
				})
				if errors.Is(err, coupon.ErrCodeTaken) {
					slog.Warn("code taken by concurrent writer, skipping", slog.String("code", code))
					continue
				}
				if err != nil {
					return errors.Wrapf(err, "create coupon %s", code)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for i, code := range codes {
			select {
			case work <- code:
			case <-ctx.Done():
				return ctx.Err()
			}
			if (i+1)%progressEvery == 0 {
				slog.Info("insert progress", slog.Int("sent", i+1), slog.Int("total", len(codes)))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("insert complete",
		slog.Int("count", len(codes)),
		slog.String("elapsed", time.Since(started).Round(time.Millisecond).String()),
	)

	return nil
}

// exportCodes writes the issued codes to a gzip file, one per line.
func exportCodes(path string, codes []string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)

	for _, code := range codes {
		if _, err := fmt.Fprintln(w, code); err != nil {
			return errors.Wrap(err, "write code")
		}
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip writer")
	}
	return f.Close()
}
