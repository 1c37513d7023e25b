package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const configEnv = "IMGCACHE_CONFIG"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// exitError 携带退出码；RunE 返回它以区分参数错误与运行期失败。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func failf(format string, args ...interface{}) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建命令树并执行，返回退出码，方便测试。
func execute(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(stdErr, err.Error())

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 2
}

// cliOptions 汇总全局标志解析后的结果。
type cliOptions struct {
	configFlag string
}

// configPath 结合环境变量计算最终的配置路径：--config > IMGCACHE_CONFIG > ./config.toml。
func (o *cliOptions) configPath() string {
	if path := strings.TrimSpace(o.configFlag); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv(configEnv)); path != "" {
		return path
	}
	return "config.toml"
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "imgcache",
		Short:         "轻小说阅读器的图片磁盘缓存",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")

	root.AddCommand(
		newServeCommand(opts),
		newFetchCommand(opts),
		newStatsCommand(opts),
		newClearCommand(opts),
		newSweepCommand(opts),
		newCheckConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}
