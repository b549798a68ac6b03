// netflowd 网络流量两级分类服务
//
// 用法:
//
//	netflowd serve [-c netflow.toml]
//	netflowd predict flows.csv [--mode proba]
//	netflowd inspect [--tree 0 --depth 3]
//	netflowd config init [--path netflow.toml]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
