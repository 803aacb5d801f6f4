package llm

import (
	"context"
	stdErrors "errors"
	"time"

	xerrors "studypilot/internal/errors"
)

// retryBackoff 是首次失败后的固定等待时间。
const retryBackoff = 500 * time.Millisecond

// GenerateWithRetry 调用大模型，失败后退避一次重试。
// 超时映射为 ORACLE_TIMEOUT，其余失败映射为 ORACLE_UNAVAILABLE。
func GenerateWithRetry(ctx context.Context, client Client, req Request) (*Response, error) {
	resp, err := client.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}

	select {
	case <-ctx.Done():
		return nil, classify(ctx.Err())
	case <-time.After(retryBackoff):
	}

	resp, retryErr := client.Generate(ctx, req)
	if retryErr == nil {
		return resp, nil
	}
	return nil, classify(retryErr)
}

func classify(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeOracleTimeout, err, "大模型调用超时")
	}
	if e, ok := xerrors.From(err); ok {
		switch e.Code() {
		case xerrors.CodeOracleTimeout, xerrors.CodeOracleUnavailable:
			return err
		}
	}
	return xerrors.Wrap(xerrors.CodeOracleUnavailable, err, "大模型调用失败")
}
