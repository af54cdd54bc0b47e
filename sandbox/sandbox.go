// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package sandbox evaluates model-authored database expressions without
// dynamic code execution. Expressions are parsed against a fixed grammar
// (db.<collection>.<op>(args...) with optional chained modifiers), checked
// against an operation allow-list, and dispatched through a capability
// interface scoped to one tenant's database. Results are normalized to
// canonical extended JSON so BSON-specific types survive the JSON boundary.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrDisallowedOperation is returned when an expression uses an operation
// outside the allow-list. The expression is rejected before any database
// access.
var ErrDisallowedOperation = errors.New("disallowed operation")

// ErrEvaluation is returned when a well-formed, allow-listed expression
// fails at runtime.
var ErrEvaluation = errors.New("expression evaluation failed")

var promEvaluations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tenantgate_sandbox_evaluations_total",
		Help: "Total number of sandbox expression evaluations",
	},
	[]string{"operation", "status"},
)

func init() {
	prometheus.MustRegister(promEvaluations)
}

// Outcome is the result of evaluating one expression in a batch. Exactly one
// of Value and Err is meaningful.
type Outcome struct {
	Query string
	Value interface{}
	Err   error
}

// Evaluate parses and runs one expression against db. Grammar violations
// and disallowed operations never touch the database; runtime failures are
// wrapped in ErrEvaluation.
func Evaluate(ctx context.Context, db Database, input string) (interface{}, error) {
	expr, err := Parse(input)
	if err != nil {
		if errors.Is(err, ErrDisallowedOperation) {
			promEvaluations.WithLabelValues("parse", "disallowed").Inc()
			return nil, err
		}
		promEvaluations.WithLabelValues("parse", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	value, err := dispatch(ctx, db, expr)
	if err != nil {
		if errors.Is(err, ErrDisallowedOperation) {
			promEvaluations.WithLabelValues(expr.Op.Name, "disallowed").Inc()
			return nil, err
		}
		promEvaluations.WithLabelValues(expr.Op.Name, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	normalized, err := Normalize(value)
	if err != nil {
		promEvaluations.WithLabelValues(expr.Op.Name, "error").Inc()
		return nil, fmt.Errorf("%w: normalize result: %v", ErrEvaluation, err)
	}

	promEvaluations.WithLabelValues(expr.Op.Name, "success").Inc()
	return normalized, nil
}

// EvaluateBatch runs expressions concurrently and returns one outcome per
// expression, in input order. A failing expression never aborts its
// siblings.
func EvaluateBatch(ctx context.Context, db Database, exprs []string) []Outcome {
	outcomes := make([]Outcome, len(exprs))

	var wg sync.WaitGroup
	for i, expr := range exprs {
		wg.Add(1)
		go func(i int, expr string) {
			defer wg.Done()
			value, err := Evaluate(ctx, db, expr)
			outcomes[i] = Outcome{Query: expr, Value: value, Err: err}
		}(i, expr)
	}
	wg.Wait()

	return outcomes
}

// dispatch routes a parsed expression to the capability interface.
func dispatch(ctx context.Context, db Database, expr *Expression) (interface{}, error) {
	col := db.Collection(expr.Collection)

	switch expr.Op.Name {
	case "find":
		return dispatchFind(ctx, col, expr)
	case "findOne":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		return col.FindOne(ctx, argAt(expr.Op.Args, 0, bson.D{}), findOptions(expr.Op.Args))
	case "aggregate":
		return dispatchAggregate(ctx, col, expr)
	case "countDocuments":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		return col.CountDocuments(ctx, argAt(expr.Op.Args, 0, bson.D{}))
	case "insertOne":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		if err := requireArgs(expr, 1); err != nil {
			return nil, err
		}
		return col.InsertOne(ctx, expr.Op.Args[0])
	case "insertMany":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		if err := requireArgs(expr, 1); err != nil {
			return nil, err
		}
		docs, ok := expr.Op.Args[0].(bson.A)
		if !ok {
			return nil, fmt.Errorf("insertMany requires an array argument")
		}
		return col.InsertMany(ctx, docs)
	case "updateOne":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		if err := requireArgs(expr, 2); err != nil {
			return nil, err
		}
		return col.UpdateOne(ctx, expr.Op.Args[0], expr.Op.Args[1])
	case "updateMany":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		if err := requireArgs(expr, 2); err != nil {
			return nil, err
		}
		return col.UpdateMany(ctx, expr.Op.Args[0], expr.Op.Args[1])
	case "deleteOne":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		if err := requireArgs(expr, 1); err != nil {
			return nil, err
		}
		return col.DeleteOne(ctx, expr.Op.Args[0])
	case "deleteMany":
		if err := rejectChain(expr); err != nil {
			return nil, err
		}
		if err := requireArgs(expr, 1); err != nil {
			return nil, err
		}
		return col.DeleteMany(ctx, expr.Op.Args[0])
	}

	// Parse already vetted the name; reaching here is a programming error.
	return nil, fmt.Errorf("%w: %s", ErrDisallowedOperation, expr.Op.Name)
}

// dispatchFind folds the chained modifiers into FindOptions. A find must be
// materialized with toArray, matching the cursor contract the expressions
// are written against.
func dispatchFind(ctx context.Context, col Collection, expr *Expression) (interface{}, error) {
	opts := findOptions(expr.Op.Args)

	materialized := false
	for _, c := range expr.Chain {
		switch c.Name {
		case "project":
			opts.Projection = argAt(c.Args, 0, nil)
		case "sort":
			opts.Sort = argAt(c.Args, 0, nil)
		case "skip":
			n, err := intArg(c)
			if err != nil {
				return nil, err
			}
			opts.Skip = &n
		case "limit":
			n, err := intArg(c)
			if err != nil {
				return nil, err
			}
			opts.Limit = &n
		case "toArray":
			materialized = true
		}
	}
	if !materialized {
		return nil, fmt.Errorf("find must be materialized with toArray()")
	}

	return col.Find(ctx, argAt(expr.Op.Args, 0, bson.D{}), opts)
}

func dispatchAggregate(ctx context.Context, col Collection, expr *Expression) (interface{}, error) {
	for _, c := range expr.Chain {
		if c.Name != "toArray" {
			return nil, fmt.Errorf("%w: aggregate does not support %s", ErrDisallowedOperation, c.Name)
		}
	}
	if err := requireArgs(expr, 1); err != nil {
		return nil, err
	}
	return col.Aggregate(ctx, expr.Op.Args[0])
}

// findOptions reads an optional second argument as a projection, matching
// the two-argument find(filter, projection) form.
func findOptions(args []interface{}) FindOptions {
	var opts FindOptions
	if len(args) > 1 {
		opts.Projection = args[1]
	}
	return opts
}

// rejectChain fails any operation that takes no chained modifiers. A chained
// call on a mutation would otherwise narrow the expressed intent without
// narrowing what executes.
func rejectChain(expr *Expression) error {
	if len(expr.Chain) > 0 {
		return fmt.Errorf("%w: %s does not support chained calls", ErrDisallowedOperation, expr.Op.Name)
	}
	return nil
}

func requireArgs(expr *Expression, n int) error {
	if len(expr.Op.Args) != n {
		return fmt.Errorf("%s requires %d argument(s), got %d", expr.Op.Name, n, len(expr.Op.Args))
	}
	return nil
}

func argAt(args []interface{}, i int, fallback interface{}) interface{} {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

func intArg(c Call) (int64, error) {
	if len(c.Args) != 1 {
		return 0, fmt.Errorf("%s requires one numeric argument", c.Name)
	}
	switch v := c.Args[0].(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("%s requires one numeric argument", c.Name)
}
