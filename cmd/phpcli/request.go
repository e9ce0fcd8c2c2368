package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go-php-cli/failure"
	"go-php-cli/options"
	"go-php-cli/server"
)

// jwtSecretEnv holds the HMAC secret used by --jwt-sub.
const jwtSecretEnv = "PHPCLI_JWT_SECRET"

const tokenTTL = time.Hour

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request URL",
		Short: "Run the script selected by URL and print its response",
		Args:  cobra.ExactArgs(1),
		RunE:  runRequest,
	}

	cmd.Flags().StringP("method", "X", "", "request method (default GET, or POST when a body is given)")
	cmd.Flags().StringArrayP("header", "H", []string{}, "request header as 'Name: value' (repeatable)")
	cmd.Flags().StringP("data", "d", "", "raw request body")
	cmd.Flags().String("json", "", "JSON request body")
	cmd.Flags().StringArrayP("form", "F", []string{}, "form field as key=value (repeatable)")
	cmd.Flags().DurationP("timeout", "t", 0, "wall-clock timeout (default from config)")
	cmd.Flags().String("jwt-sub", "", "send an HS256 bearer token for this subject, signed with $"+jwtSecretEnv)
	cmd.Flags().Bool("no-color", false, "disable colored output")
	cmd.MarkFlagsMutuallyExclusive("data", "json", "form")

	return cmd
}

func runRequest(cmd *cobra.Command, args []string) error {
	method, _ := cmd.Flags().GetString("method")
	verbose, _ := cmd.Flags().GetBool("verbose")
	noColor, _ := cmd.Flags().GetBool("no-color")

	o, hasBody, err := requestOptions(cmd)
	if err != nil {
		return err
	}
	if method == "" {
		method = "GET"
		if hasBody {
			method = "POST"
		}
	}

	srv, log, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	scheme := schemeFor(out, noColor)

	resp, err := srv.Request(ctx, strings.ToUpper(method), args[0], o)
	if err != nil {
		// A child that died without a trailer still produced something.
		var pe *failure.ProcessError
		if errors.As(err, &pe) {
			if degraded, ok := pe.Response.(*server.Response); ok {
				printResponse(out, scheme, degraded, verbose)
			}
		}
		return err
	}

	printResponse(out, scheme, resp, verbose)
	return nil
}

// requestOptions builds the request options from the flags and reports
// whether a body was given.
func requestOptions(cmd *cobra.Command) (*options.Options, bool, error) {
	headers, _ := cmd.Flags().GetStringArray("header")
	data, _ := cmd.Flags().GetString("data")
	jsonBody, _ := cmd.Flags().GetString("json")
	form, _ := cmd.Flags().GetStringArray("form")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	subject, _ := cmd.Flags().GetString("jwt-sub")

	b := options.NewBuilder()
	for _, h := range headers {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			return nil, false, &failure.ConstructionError{Field: "header", Reason: fmt.Sprintf("%q is not 'Name: value'", h)}
		}
		b.Header(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}

	hasBody := true
	switch {
	case cmd.Flags().Changed("data"):
		b.RawBody([]byte(data))
	case jsonBody != "":
		var v any
		if err := json.Unmarshal([]byte(jsonBody), &v); err != nil {
			return nil, false, &failure.ConstructionError{Field: "json", Reason: err.Error()}
		}
		b.JSON(v)
	case len(form) > 0:
		for _, f := range form {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				return nil, false, &failure.ConstructionError{Field: "form", Reason: fmt.Sprintf("%q is not key=value", f)}
			}
			b.FormParam(k, v)
		}
	default:
		hasBody = false
	}

	if timeout > 0 {
		b.Timeout(timeout)
	}

	if subject != "" {
		secret := os.Getenv(jwtSecretEnv)
		if secret == "" {
			return nil, false, fmt.Errorf("--jwt-sub needs %s to be set", jwtSecretEnv)
		}
		token, err := mintToken([]byte(secret), subject, time.Now())
		if err != nil {
			return nil, false, err
		}
		b.BearerToken(token)
	}

	o, err := b.Build()
	return o, hasBody, err
}

// mintToken signs an HS256 token for subject that expires after tokenTTL.
func mintToken(secret []byte, subject string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    "phpcli",
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
