package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var capturedOut, capturedErr *bytes.Buffer

// useBufferWriters 把命令输出重定向到内存，测试结束后恢复。
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	capturedOut, capturedErr = new(bytes.Buffer), new(bytes.Buffer)
	stdOut, stdErr = capturedOut, capturedErr

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
		capturedOut, capturedErr = nil, nil
	})
}

func stdOutBuffer() *bytes.Buffer { return capturedOut }

func stdErrBuffer() *bytes.Buffer { return capturedErr }

// configFixture 返回 internal/config/testdata 下的配置样例路径。
// go test 以包目录为工作目录，根包即仓库根。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("internal", "config", "testdata", name))
	if err != nil {
		t.Fatalf("定位配置样例失败: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("配置样例目录不存在: %v", err)
	}
	return path
}

func TestUseBufferWritersRestoresStreams(t *testing.T) {
	origOut, origErr := stdOut, stdErr
	t.Run("captured", func(t *testing.T) {
		useBufferWriters(t)
		if code := execute([]string{"version"}); code != 0 {
			t.Fatalf("version 应成功，得到 %d", code)
		}
		if stdOutBuffer().Len() == 0 {
			t.Fatalf("输出应写入内存缓冲")
		}
	})
	if stdOut != origOut || stdErr != origErr {
		t.Fatalf("子测试结束后应恢复原始输出流")
	}
}
