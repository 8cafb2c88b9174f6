package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wuttem/stss/tsdb"
)

var (
	storage       string
	fileDir       string
	redisAddr     string
	redisDB       int
	bucketType    string
	valueType     string
	dynamicTarget int
	dynamicMax    int
	dynamoTable   string
	dynamoRegion  string
	dynamoLocal   bool
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "stss",
	Short: "Bucketed time-series store",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storage, "storage", "file", "storage backend: memory, file, redis or dynamo")
	rootCmd.PersistentFlags().StringVar(&fileDir, "dir", "./stss/", "storage folder of the file backend")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redisAddr", "localhost:6379", "redis address <host>:<port>")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redisDb", 0, "redis database number")
	rootCmd.PersistentFlags().StringVar(&bucketType, "bucketType", "daily", "bucket type: dynamic, hourly, daily, weekly or monthly")
	rootCmd.PersistentFlags().StringVar(&valueType, "valueType", "raw_float", "value type of new series")
	rootCmd.PersistentFlags().IntVar(&dynamicTarget, "dynamicTarget", tsdb.DefaultDynamicTarget, "soft size bound of dynamic buckets")
	rootCmd.PersistentFlags().IntVar(&dynamicMax, "dynamicMax", tsdb.DefaultDynamicMax, "hard size bound of dynamic buckets")
	rootCmd.PersistentFlags().StringVar(&dynamoTable, "dynamoTable", "data_table", "dynamo table name (without the stss_ prefix)")
	rootCmd.PersistentFlags().StringVar(&dynamoRegion, "dynamoRegion", "", "dynamo region")
	rootCmd.PersistentFlags().BoolVar(&dynamoLocal, "dynamoLocal", false, "use a local dynamo endpoint")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(insertCmd, queryCmd, rangeCmd, countCmd)
}

func openDB() (*tsdb.DB, error) {
	bt, err := tsdb.ParseBucketType(bucketType)
	if err != nil {
		return nil, err
	}
	vt, err := tsdb.ParseValueType(valueType)
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}
	return tsdb.Open(tsdb.Options{
		Storage:       storage,
		BucketType:    bt,
		ValueType:     vt,
		DynamicTarget: dynamicTarget,
		DynamicMax:    dynamicMax,
		FileDir:       fileDir,
		RedisAddr:     redisAddr,
		RedisDB:       redisDB,
		Dynamo: tsdb.DynamoConfig{
			TableName: dynamoTable,
			Region:    dynamoRegion,
			Local:     dynamoLocal,
		},
		Logger: logger,
	})
}

// parsePoint - "<ts>:<value>", value a float or a comma separated tuple.
func parsePoint(arg string) (tsdb.Point, error) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		return tsdb.Point{}, fmt.Errorf("invalid point %q, want <ts>:<value>", arg)
	}
	ts, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return tsdb.Point{}, fmt.Errorf("invalid timestamp in %q: %w", arg, err)
	}
	fields := strings.Split(parts[1], ",")
	if len(fields) == 1 {
		v, err := strconv.ParseFloat(fields[0], 32)
		if err != nil {
			return tsdb.Point{}, fmt.Errorf("invalid value in %q: %w", arg, err)
		}
		return tsdb.Point{Ts: uint32(ts), Value: tsdb.Float32(float32(v))}, nil
	}
	tuple := make([]float32, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return tsdb.Point{}, fmt.Errorf("invalid value in %q: %w", arg, err)
		}
		tuple = append(tuple, float32(v))
	}
	return tsdb.Point{Ts: uint32(ts), Value: tsdb.TupleOf(tuple...)}, nil
}

var insertCmd = &cobra.Command{
	Use:   "insert <key> <ts:value>...",
	Short: "Insert data points into a series",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		data := make([]tsdb.Point, 0, len(args)-1)
		for _, arg := range args[1:] {
			p, err := parsePoint(arg)
			if err != nil {
				return err
			}
			data = append(data, p)
		}
		stats, err := db.Insert(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d points, appended %d, inserted %d, splits %d, merged %d\n",
			stats.Key, stats.Count, stats.Appended, stats.Inserted, stats.Splits, stats.Merged)
		return nil
	},
}

var (
	aggGroup    string
	aggFunction string
)

func init() {
	queryCmd.Flags().StringVar(&aggGroup, "group", "", "aggregation group: hourly or daily")
	queryCmd.Flags().StringVar(&aggFunction, "aggregation", "", "aggregation function: sum, count, min, max, amp or mean")
}

var queryCmd = &cobra.Command{
	Use:   "query <key> <ts_min> <ts_max>",
	Short: "Query a series range, optionally aggregated",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tsMin, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		tsMax, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		rs, err := db.Query(cmd.Context(), args[0], uint32(tsMin), uint32(tsMax))
		if err != nil {
			return err
		}
		if aggGroup != "" || aggFunction != "" {
			aggs, err := rs.Aggregation(aggGroup, aggFunction)
			if err != nil {
				return err
			}
			for aggs.Next() {
				p := aggs.Point()
				fmt.Printf("%d %g\n", p.Ts, p.Value)
			}
			return nil
		}
		all := rs.All()
		for all.Next() {
			p := all.Point()
			fmt.Printf("%d %s\n", p.Ts, formatValue(rs.ValueType(), p.Value))
		}
		return nil
	},
}

func formatValue(t tsdb.ValueType, v tsdb.Value) string {
	if t == tsdb.RawInt {
		return strconv.FormatUint(uint64(v.Int), 10)
	}
	if len(v.Tuple) > 0 {
		fields := make([]string, 0, len(v.Tuple))
		for _, f := range v.Tuple {
			fields = append(fields, strconv.FormatFloat(float64(f), 'g', -1, 32))
		}
		return strings.Join(fields, ",")
	}
	return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
}

var rangeCmd = &cobra.Command{
	Use:   "range <key>",
	Short: "Show the covered time span of a series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		r, err := db.Range(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if r == nil {
			fmt.Println("empty")
			return nil
		}
		fmt.Printf("%d - %d\n", r.TsMin, r.TsMax)
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <key>",
	Short: "Count the stored samples of a series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		n, err := db.Count(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
