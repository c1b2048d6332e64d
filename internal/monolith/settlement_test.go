package monolith

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func stringPointer(value string) *string {
	return &value
}

func TestAcquireSoloDisplacesGenesis(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	result, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{
		Content:     "  first   words\tcarved  ",
		BidAmount:   money("2.00"),
		AuthorName:  "  Ada ",
		NotifyEmail: " Ada@Example.COM ",
	})
	if err != nil {
		testContext.Fatalf("acquire solo failed: %v", err)
	}
	if result.Displaced.ID != GenesisOccupant().ID || result.Displaced.Active {
		testContext.Fatalf("expected genesis to be archived, got %+v", result.Displaced)
	}
	if result.Monolith.Content != "first words carved" {
		testContext.Fatalf("expected normalized content, got %q", result.Monolith.Content)
	}
	if stringValue(result.Monolith.AuthorName) != "Ada" || stringValue(result.Monolith.AuthorEmail) != "ada@example.com" {
		testContext.Fatalf("unexpected author fields %+v", result.Monolith)
	}

	active := fixture.activeOccupant(testContext)
	if active.ID != result.Monolith.ID || active.SourceType != SourceTypeSolo {
		testContext.Fatalf("unexpected active occupant %+v", active)
	}
	assertMoney(testContext, "valuation", active.Valuation, "2.00")
	if len(fixture.notifier.Messages()) != 0 {
		testContext.Fatalf("genesis has no email; expected no notifications, got %v", fixture.notifier.Keys())
	}
}

func TestAcquireSoloRejectsBidBelowDisplacementCost(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "opening", BidAmount: money("2.00")}); err != nil {
		testContext.Fatalf("opening bid failed: %v", err)
	}
	before := fixture.activeOccupant(testContext)

	_, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "too cheap", BidAmount: money("2.99")})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Reason != ReasonBidBelowMinimum {
		testContext.Fatalf("expected bid_below_minimum, got %v", err)
	}
	if validationErr.Message != "Bid must be at least $3.00." {
		testContext.Fatalf("unexpected message %q", validationErr.Message)
	}
	if after := fixture.activeOccupant(testContext); after.ID != before.ID {
		testContext.Fatalf("rejected bid mutated the occupant: %s -> %s", before.ID, after.ID)
	}
}

func TestAcquireSoloNotifiesDisplacedAuthor(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	first, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{
		Content:     "mine",
		BidAmount:   money("2.00"),
		NotifyEmail: "first@example.com",
	})
	if err != nil {
		testContext.Fatalf("first bid failed: %v", err)
	}
	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "now mine", BidAmount: money("3.00")}); err != nil {
		testContext.Fatalf("second bid failed: %v", err)
	}

	messages := fixture.notifier.Messages()
	if len(messages) != 1 {
		testContext.Fatalf("expected one displacement notice, got %v", fixture.notifier.Keys())
	}
	expectedKey := "solo-displaced:" + first.Monolith.ID + ":first@example.com"
	if messages[0].EventKey != expectedKey || messages[0].Recipient != "first@example.com" {
		testContext.Fatalf("unexpected message %+v", messages[0])
	}
	if !strings.Contains(messages[0].Body, "$3.00") || messages[0].Subject != "You were displaced on The Monolith" {
		testContext.Fatalf("unexpected message content %+v", messages[0])
	}
}

func TestAcquireSoloValidation(testContext *testing.T) {
	testCases := []struct {
		name   string
		input  AcquireSoloInput
		reason string
	}{
		{name: "blank content", input: AcquireSoloInput{Content: " \n\t ", BidAmount: money("5")}, reason: ReasonContentRequired},
		{name: "content too long", input: AcquireSoloInput{Content: strings.Repeat("é", MaxInscriptionCharacters+1), BidAmount: money("5")}, reason: ReasonContentTooLong},
		{name: "alias too long", input: AcquireSoloInput{Content: "ok", BidAmount: money("5"), AuthorName: strings.Repeat("a", MaxAliasCharacters+1)}, reason: ReasonAliasTooLong},
		{name: "invalid email", input: AcquireSoloInput{Content: "ok", BidAmount: money("5"), NotifyEmail: "not-an-email"}, reason: ReasonInvalidEmail},
		{name: "zero bid", input: AcquireSoloInput{Content: "ok", BidAmount: money("0")}, reason: ReasonInvalidAmount},
		{name: "negative bid", input: AcquireSoloInput{Content: "ok", BidAmount: money("-3")}, reason: ReasonInvalidAmount},
		{name: "bid beyond storable amount", input: AcquireSoloInput{Content: "ok", BidAmount: money("10000000000.00")}, reason: ReasonInvalidAmount},
	}

	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			fixture := newServiceFixture(t, nil)
			_, err := fixture.service.AcquireSolo(context.Background(), testCase.input)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) || validationErr.Reason != testCase.reason {
				t.Fatalf("expected reason %s, got %v", testCase.reason, err)
			}
			if active := fixture.activeOccupant(t); active.ID != GenesisOccupant().ID {
				t.Fatalf("validation failure mutated occupant")
			}
		})
	}
}

func TestSyndicateCoupAfterIncrementalContributions(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	solo, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "solo", BidAmount: money("10.00"), NotifyEmail: "solo@example.com"})
	if err != nil {
		testContext.Fatalf("solo bid failed: %v", err)
	}

	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{
		ProposedContent:           "together",
		InitialContribution:       money("4.00"),
		AuthorName:                "Creator",
		NotifyEmail:               "creator@example.com",
		NotifyOnFunded:            true,
		NotifyOnEveryContribution: true,
	})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}
	if initialized.CoupExecuted || initialized.Syndicate.Status != SyndicateStatusActive {
		testContext.Fatalf("unexpected initialize result %+v", initialized)
	}
	syndicateID := initialized.Syndicate.ID

	_, err = fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: syndicateID, Amount: money("0.99")})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Reason != ReasonContributionBelowMin {
		testContext.Fatalf("expected contribution_below_minimum, got %v", err)
	}

	second, err := fixture.service.ContributeToSyndicate(ctx, ContributeInput{
		SyndicateID:    syndicateID,
		Amount:         money("3.00"),
		AuthorName:     "Bo",
		NotifyEmail:    "bo@example.com",
		NotifyOnFunded: true,
		PaymentRef:     "pi_second",
	})
	if err != nil {
		testContext.Fatalf("second contribution failed: %v", err)
	}
	if second.CoupExecuted {
		testContext.Fatalf("7.00 must not displace 10.00")
	}
	assertMoney(testContext, "total after second", second.Syndicate.TotalRaised, "7.00")

	third, err := fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: syndicateID, Amount: money("3.50")})
	if err != nil {
		testContext.Fatalf("third contribution failed: %v", err)
	}
	if !third.CoupExecuted || third.Syndicate.Status != SyndicateStatusWon || third.Syndicate.WonAt == nil {
		testContext.Fatalf("expected coup, got %+v", third)
	}

	active := fixture.activeOccupant(testContext)
	if active.Content != "together" || active.SourceType != SourceTypeSyndicate {
		testContext.Fatalf("unexpected occupant after coup %+v", active)
	}
	assertMoney(testContext, "coup valuation", active.Valuation, "10.50")
	if active.SourceSyndicateID == nil || *active.SourceSyndicateID != syndicateID {
		testContext.Fatalf("expected source syndicate %s, got %v", syndicateID, active.SourceSyndicateID)
	}
	if active.FundedByCount == nil || *active.FundedByCount != 3 {
		testContext.Fatalf("expected three distinct contributors, got %v", active.FundedByCount)
	}
	if active.FundedInDays == nil || *active.FundedInDays != 1 {
		testContext.Fatalf("expected funded in one day, got %v", active.FundedInDays)
	}
	if stringValue(active.AuthorName) != "Creator" {
		testContext.Fatalf("expected creator attribution, got %v", active.AuthorName)
	}

	stored := fixture.syndicate(testContext, syndicateID)
	if stored.Status != SyndicateStatusWon {
		testContext.Fatalf("expected stored syndicate won, got %s", stored.Status)
	}
	assertMoney(testContext, "stored total", stored.TotalRaised, "10.50")

	_, err = fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: syndicateID, Amount: money("5.00")})
	if !errors.As(err, &validationErr) || validationErr.Reason != ReasonSyndicateInactive {
		testContext.Fatalf("expected syndicate_inactive after coup, got %v", err)
	}
	assertMoney(testContext, "frozen total", fixture.syndicate(testContext, syndicateID).TotalRaised, "10.50")

	keys := fixture.notifier.Keys()
	expected := []string{
		"syndicate-contribution:" + syndicateID + ":pi_second:creator@example.com",
		"syndicate-funded:" + syndicateID + ":creator@example.com",
		"syndicate-funded:" + syndicateID + ":bo@example.com",
	}
	for _, key := range expected {
		if !containsString(keys, key) {
			testContext.Fatalf("expected notification %s in %v", key, keys)
		}
	}
	for _, key := range keys {
		if strings.HasPrefix(key, "solo-displaced:"+solo.Monolith.ID) {
			testContext.Fatalf("coup must not send a solo displacement notice, got %s", key)
		}
	}
}

func TestSyndicateEqualToValuationDoesNotCoup(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	result, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{
		ProposedContent:     "tie",
		InitialContribution: money("1.00"),
	})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}
	if result.CoupExecuted {
		testContext.Fatalf("a total equal to the valuation must not displace")
	}
	if active := fixture.activeOccupant(testContext); active.ID != GenesisOccupant().ID {
		testContext.Fatalf("expected genesis to remain, got %s", active.ID)
	}
}

func TestInitializeSyndicateImmediateCoup(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	result, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{
		ProposedContent:     "instant",
		InitialContribution: money("5.00"),
	})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}
	if !result.CoupExecuted || result.Syndicate.Status != SyndicateStatusWon {
		testContext.Fatalf("expected immediate coup, got %+v", result)
	}
	active := fixture.activeOccupant(testContext)
	assertMoney(testContext, "valuation", active.Valuation, "5.00")
	if active.FundedByCount == nil || *active.FundedByCount != 1 {
		testContext.Fatalf("expected a single anonymous contributor, got %v", active.FundedByCount)
	}

	if count := fixture.contributionCount(testContext, result.Syndicate.ID); count != 1 {
		testContext.Fatalf("expected the initial contribution row, got %d", count)
	}
	var contribution Contribution
	if err := fixture.database.Where("syndicate_id = ?", result.Syndicate.ID).Take(&contribution).Error; err != nil {
		testContext.Fatalf("failed to load contribution: %v", err)
	}
	if !strings.HasPrefix(contribution.PaymentRef, generatedRefPrefix) {
		testContext.Fatalf("expected generated payment ref, got %q", contribution.PaymentRef)
	}
}

func TestResolveCoupRunsOnce(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	result, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "once", InitialContribution: money("3.00")})
	if err != nil || !result.CoupExecuted {
		testContext.Fatalf("expected coup on initialize, got %+v %v", result, err)
	}

	outcome, err := fixture.service.resolveCoupIfEligible(ctx, result.Syndicate.ID)
	if err != nil {
		testContext.Fatalf("repeat resolution failed: %v", err)
	}
	if outcome.executed {
		testContext.Fatalf("a won syndicate must not execute a second coup")
	}

	var history int64
	if err := fixture.database.Model(&Occupant{}).Count(&history).Error; err != nil {
		testContext.Fatalf("failed to count history: %v", err)
	}
	if history != 2 {
		testContext.Fatalf("expected genesis plus one coup occupant, got %d", history)
	}
}

func TestConcurrentSoloBidsSettleOnce(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	const bidders = 8
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		successes int
		failures  []error
	)
	for bidder := 0; bidder < bidders; bidder++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "race", BidAmount: money("5.00")})
			mutex.Lock()
			defer mutex.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	waitGroup.Wait()

	if successes != 1 {
		testContext.Fatalf("expected exactly one winning bid, got %d (failures %v)", successes, failures)
	}
	for _, err := range failures {
		if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrConcurrentSettlement) {
			testContext.Fatalf("losing bid returned unexpected error %v", err)
		}
	}
	fixture.activeOccupant(testContext)
}

func TestConcurrentContributionsKeepTotalConsistent(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "high", BidAmount: money("100.00")}); err != nil {
		testContext.Fatalf("solo bid failed: %v", err)
	}
	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "crowd", InitialContribution: money("1.00")})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}

	const contributors = 6
	var waitGroup sync.WaitGroup
	errs := make(chan error, contributors)
	for contributor := 0; contributor < contributors; contributor++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: initialized.Syndicate.ID, Amount: money("1.25")})
			errs <- err
		}()
	}
	waitGroup.Wait()
	close(errs)

	accepted := int64(1)
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		if !errors.Is(err, ErrConcurrentSettlement) {
			testContext.Fatalf("unexpected contribution error %v", err)
		}
	}

	var contributions []Contribution
	if err := fixture.database.Where("syndicate_id = ?", initialized.Syndicate.ID).Find(&contributions).Error; err != nil {
		testContext.Fatalf("failed to load contributions: %v", err)
	}
	if int64(len(contributions)) != accepted {
		testContext.Fatalf("expected %d contribution rows, got %d", accepted, len(contributions))
	}
	sum := money("0")
	for _, contribution := range contributions {
		sum = sum.Add(contribution.Amount)
	}
	assertMoney(testContext, "total equals contributions", fixture.syndicate(testContext, initialized.Syndicate.ID).TotalRaised, sum.StringFixed(2))
}

func TestContributeReplaysCallerPaymentRef(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "high", BidAmount: money("50.00")}); err != nil {
		testContext.Fatalf("solo bid failed: %v", err)
	}
	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{
		ProposedContent:     "replay",
		InitialContribution: money("2.00"),
		PaymentRef:          "pi_init",
	})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}
	syndicateID := initialized.Syndicate.ID

	first, err := fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: syndicateID, Amount: money("3.00"), PaymentRef: "pi_once"})
	if err != nil || first.Replayed {
		testContext.Fatalf("first delivery failed: %+v %v", first, err)
	}
	replayed, err := fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: syndicateID, Amount: money("3.00"), PaymentRef: "pi_once"})
	if err != nil {
		testContext.Fatalf("replay failed: %v", err)
	}
	if !replayed.Replayed {
		testContext.Fatalf("expected replayed result")
	}
	assertMoney(testContext, "replayed total", replayed.Syndicate.TotalRaised, "5.00")
	if count := fixture.contributionCount(testContext, syndicateID); count != 2 {
		testContext.Fatalf("expected two contributions, got %d", count)
	}

	initReplay, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{
		ProposedContent:     "replay",
		InitialContribution: money("2.00"),
		PaymentRef:          "pi_init",
	})
	if err != nil {
		testContext.Fatalf("initialize replay failed: %v", err)
	}
	if !initReplay.Replayed || initReplay.Syndicate.ID != syndicateID {
		testContext.Fatalf("expected initialize replay of %s, got %+v", syndicateID, initReplay)
	}
	var syndicates int64
	if err := fixture.database.Model(&Syndicate{}).Count(&syndicates).Error; err != nil {
		testContext.Fatalf("failed to count syndicates: %v", err)
	}
	if syndicates != 1 {
		testContext.Fatalf("expected one syndicate after replay, got %d", syndicates)
	}
}

func TestContributeRejectsPaymentRefFromAnotherSyndicate(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "high", BidAmount: money("50.00")}); err != nil {
		testContext.Fatalf("solo bid failed: %v", err)
	}
	first, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "a", InitialContribution: money("2.00"), PaymentRef: "pi_shared"})
	if err != nil {
		testContext.Fatalf("initialize a failed: %v", err)
	}
	second, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "b", InitialContribution: money("2.00")})
	if err != nil {
		testContext.Fatalf("initialize b failed: %v", err)
	}

	_, err = fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: second.Syndicate.ID, Amount: money("1.00"), PaymentRef: "pi_shared"})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Reason != ReasonPaymentRefMismatch {
		testContext.Fatalf("expected payment_ref_mismatch, got %v", err)
	}
	assertMoney(testContext, "untouched total", fixture.syndicate(testContext, second.Syndicate.ID).TotalRaised, "2.00")
	assertMoney(testContext, "initial total", fixture.syndicate(testContext, first.Syndicate.ID).TotalRaised, "2.00")
}

func TestContributeUnknownSyndicate(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)

	_, err := fixture.service.ContributeToSyndicate(context.Background(), ContributeInput{SyndicateID: "missing", Amount: money("1.00")})
	if !errors.Is(err, ErrSyndicateNotFound) {
		testContext.Fatalf("expected ErrSyndicateNotFound, got %v", err)
	}

	_, err = fixture.service.ContributeToSyndicate(context.Background(), ContributeInput{SyndicateID: "  ", Amount: money("1.00")})
	if !errors.Is(err, ErrValidation) {
		testContext.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestGeneratedPaymentRefRetriesOnCollision(testContext *testing.T) {
	faults := &ledgerFaults{}
	fixture := newServiceFixture(testContext, withFaults(faults))
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "high", BidAmount: money("50.00")}); err != nil {
		testContext.Fatalf("solo bid failed: %v", err)
	}
	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "retry", InitialContribution: money("2.00")})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}

	faults.mu.Lock()
	faults.duplicateInserts = 2
	faults.contributionInserts = 0
	faults.mu.Unlock()

	result, err := fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: initialized.Syndicate.ID, Amount: money("1.00")})
	if err != nil {
		testContext.Fatalf("expected collision retry to succeed: %v", err)
	}
	assertMoney(testContext, "total", result.Syndicate.TotalRaised, "3.00")
	faults.mu.Lock()
	attempts := faults.contributionInserts
	faults.mu.Unlock()
	if attempts != 3 {
		testContext.Fatalf("expected three insert attempts, got %d", attempts)
	}
	if count := fixture.contributionCount(testContext, initialized.Syndicate.ID); count != 2 {
		testContext.Fatalf("expected two contributions, got %d", count)
	}
}

func TestGeneratedPaymentRefExhaustionRollsBack(testContext *testing.T) {
	faults := &ledgerFaults{}
	fixture := newServiceFixture(testContext, withFaults(faults))
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "high", BidAmount: money("50.00")}); err != nil {
		testContext.Fatalf("solo bid failed: %v", err)
	}
	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "exhaust", InitialContribution: money("2.00")})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}

	faults.mu.Lock()
	faults.duplicateInserts = maxPaymentRefAttempts
	faults.mu.Unlock()

	_, err = fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: initialized.Syndicate.ID, Amount: money("1.00")})
	if !errors.Is(err, errRefsExhausted) {
		testContext.Fatalf("expected exhausted references, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "monolith.contribute.contribution_insert_failed" {
		testContext.Fatalf("unexpected error code %v", err)
	}
	assertMoney(testContext, "rolled back total", fixture.syndicate(testContext, initialized.Syndicate.ID).TotalRaised, "2.00")
	if count := fixture.contributionCount(testContext, initialized.Syndicate.ID); count != 1 {
		testContext.Fatalf("expected only the initial contribution, got %d", count)
	}
}

func TestInitializeSyndicateFailureLeavesNoOrphan(testContext *testing.T) {
	faults := &ledgerFaults{duplicateInserts: maxPaymentRefAttempts}
	fixture := newServiceFixture(testContext, withFaults(faults))

	_, err := fixture.service.InitializeSyndicate(context.Background(), InitializeSyndicateInput{ProposedContent: "orphan", InitialContribution: money("2.00")})
	if err == nil {
		testContext.Fatalf("expected initialize to fail")
	}
	var syndicates int64
	if err := fixture.database.Model(&Syndicate{}).Count(&syndicates).Error; err != nil {
		testContext.Fatalf("failed to count syndicates: %v", err)
	}
	if syndicates != 0 {
		testContext.Fatalf("expected no orphan syndicate, got %d", syndicates)
	}
}

func TestStaleOccupantIsConcurrencyError(testContext *testing.T) {
	faults := &ledgerFaults{staleDeactivate: true}
	fixture := newServiceFixture(testContext, withFaults(faults))

	_, err := fixture.service.AcquireSolo(context.Background(), AcquireSoloInput{Content: "late", BidAmount: money("2.00")})
	if !errors.Is(err, ErrConcurrentSettlement) {
		testContext.Fatalf("expected concurrency error, got %v", err)
	}
	if active := fixture.activeOccupant(testContext); active.ID != GenesisOccupant().ID {
		testContext.Fatalf("expected genesis to remain active")
	}
}

func TestCoupFailureRollsBackSwapAndReplayCompletesIt(testContext *testing.T) {
	faults := &ledgerFaults{}
	fixture := newServiceFixture(testContext, withFaults(faults))
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "incumbent", BidAmount: money("5.00")}); err != nil {
		testContext.Fatalf("solo bid failed: %v", err)
	}
	incumbent := fixture.activeOccupant(testContext)
	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "challenger", InitialContribution: money("3.00")})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}

	faults.mu.Lock()
	faults.markWonErr = errors.New("disk full")
	faults.mu.Unlock()

	_, err = fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: initialized.Syndicate.ID, Amount: money("3.00"), PaymentRef: "pi_retry"})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "monolith.resolve_coup.mark_won_failed" {
		testContext.Fatalf("expected mark_won_failed, got %v", err)
	}
	if active := fixture.activeOccupant(testContext); active.ID != incumbent.ID {
		testContext.Fatalf("failed coup must leave the incumbent in place, got %s", active.ID)
	}
	stored := fixture.syndicate(testContext, initialized.Syndicate.ID)
	if stored.Status != SyndicateStatusActive {
		testContext.Fatalf("expected syndicate to stay active, got %s", stored.Status)
	}
	assertMoney(testContext, "committed contribution", stored.TotalRaised, "6.00")

	faults.mu.Lock()
	faults.markWonErr = nil
	faults.mu.Unlock()

	replayed, err := fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: initialized.Syndicate.ID, Amount: money("3.00"), PaymentRef: "pi_retry"})
	if err != nil {
		testContext.Fatalf("replay failed: %v", err)
	}
	if !replayed.Replayed || !replayed.CoupExecuted {
		testContext.Fatalf("expected replay to complete the coup, got %+v", replayed)
	}
	assertMoney(testContext, "total unchanged by replay", fixture.syndicate(testContext, initialized.Syndicate.ID).TotalRaised, "6.00")
	if active := fixture.activeOccupant(testContext); active.Content != "challenger" {
		testContext.Fatalf("expected challenger installed, got %q", active.Content)
	}
}

func TestCoupMarkWonMissIsConcurrencyError(testContext *testing.T) {
	faults := &ledgerFaults{markWonMiss: true}
	fixture := newServiceFixture(testContext, withFaults(faults))

	_, err := fixture.service.InitializeSyndicate(context.Background(), InitializeSyndicateInput{ProposedContent: "contested", InitialContribution: money("2.00")})
	if !errors.Is(err, ErrConcurrentSettlement) {
		testContext.Fatalf("expected concurrency error, got %v", err)
	}
	if active := fixture.activeOccupant(testContext); active.ID != GenesisOccupant().ID {
		testContext.Fatalf("expected the coup to roll back, got %s", active.ID)
	}
}

func TestVanishedOccupantInsideTransactionIsConcurrencyError(testContext *testing.T) {
	faults := &ledgerFaults{occupantGoneInTx: true}
	fixture := newServiceFixture(testContext, withFaults(faults))
	ctx := context.Background()

	_, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "late", BidAmount: money("2.00")})
	var serviceErr *ServiceError
	if !errors.Is(err, ErrConcurrentSettlement) || !errors.As(err, &serviceErr) || serviceErr.Code() != "monolith.acquire_solo.stale_occupant" {
		testContext.Fatalf("expected stale_occupant concurrency error, got %v", err)
	}

	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "contested", InitialContribution: money("2.00")})
	if !errors.Is(err, ErrConcurrentSettlement) || !errors.As(err, &serviceErr) || serviceErr.Code() != "monolith.resolve_coup.coup_race" {
		testContext.Fatalf("expected coup_race concurrency error, got %v", err)
	}
	if initialized.Syndicate.Status != SyndicateStatusActive {
		testContext.Fatalf("expected syndicate to stay active, got %s", initialized.Syndicate.Status)
	}
	if active := fixture.activeOccupant(testContext); active.ID != GenesisOccupant().ID {
		testContext.Fatalf("expected genesis to remain active, got %s", active.ID)
	}
}

func TestContributionCannotPushTotalBeyondStorableAmount(testContext *testing.T) {
	fixture := newServiceFixture(testContext, nil)
	ctx := context.Background()

	if _, err := fixture.service.AcquireSolo(ctx, AcquireSoloInput{Content: "priceless", BidAmount: MaximumAmount}); err != nil {
		testContext.Fatalf("maximum bid failed: %v", err)
	}
	initialized, err := fixture.service.InitializeSyndicate(ctx, InitializeSyndicateInput{ProposedContent: "almost", InitialContribution: money("9999999999.00")})
	if err != nil {
		testContext.Fatalf("initialize failed: %v", err)
	}
	if initialized.CoupExecuted {
		testContext.Fatalf("expected no coup below the valuation")
	}

	_, err = fixture.service.ContributeToSyndicate(ctx, ContributeInput{SyndicateID: initialized.Syndicate.ID, Amount: money("1.00")})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Reason != ReasonInvalidAmount {
		testContext.Fatalf("expected invalid_amount, got %v", err)
	}
	assertMoney(testContext, "total", fixture.syndicate(testContext, initialized.Syndicate.ID).TotalRaised, "9999999999.00")
	if count := fixture.contributionCount(testContext, initialized.Syndicate.ID); count != 1 {
		testContext.Fatalf("expected one contribution, got %d", count)
	}
}

func TestFundedRecipientsDeduplicateOptIns(testContext *testing.T) {
	syndicate := Syndicate{NotifyOnFunded: true, CreatorEmail: stringPointer("Creator@Example.com")}
	contributors := []Contribution{
		{ID: "c1", NotifyOnFunded: true, ContributorEmail: stringPointer("creator@example.com")},
		{ID: "c2", NotifyOnFunded: true, ContributorEmail: stringPointer("other@example.com")},
		{ID: "c3", NotifyOnFunded: false, ContributorEmail: stringPointer("silent@example.com")},
		{ID: "c4", NotifyOnFunded: true},
	}

	recipients := fundedRecipients(syndicate, contributors)
	if len(recipients) != 2 || recipients[0] != "creator@example.com" || recipients[1] != "other@example.com" {
		testContext.Fatalf("unexpected recipients %v", recipients)
	}

	syndicate.NotifyOnFunded = false
	recipients = fundedRecipients(syndicate, contributors)
	if len(recipients) != 2 || recipients[0] != "creator@example.com" {
		testContext.Fatalf("expected opted-in contributor with the creator's address, got %v", recipients)
	}
}

func TestNewServiceValidatesDependencies(testContext *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &sequenceIDProvider{}}); !errors.Is(err, errMissingLedger) {
		testContext.Fatalf("expected missing ledger error, got %v", err)
	}
	if _, err := NewService(ServiceConfig{Ledger: NewGormLedger(nil)}); !errors.Is(err, errMissingIDProvider) {
		testContext.Fatalf("expected missing id provider error, got %v", err)
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
