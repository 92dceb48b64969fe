package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/asr-client/internal/model/asr"
)

func printJSON(v any) {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(data))
}

func readFile(path string) (asr.File, error) {
	if path == "" {
		return asr.File{}, fmt.Errorf("请通过 -file 指定文件路径")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return asr.File{}, fmt.Errorf("读取文件失败: %w", err)
	}
	return asr.File{Name: filepath.Base(path), Data: data}, nil
}

func (a *app) login(ctx context.Context, opts options) error {
	token, err := a.api.Auth.Login(ctx, opts.username, opts.password)
	if err != nil {
		return err
	}
	a.store.SetSession(token.AccessToken)

	if user, err := a.api.Auth.Me(ctx); err == nil {
		a.store.SetUser(user)
	}
	fmt.Printf("登录成功: %s\n", opts.username)
	return nil
}

func (a *app) register(ctx context.Context, opts options) error {
	token, err := a.api.Auth.Register(ctx, opts.username, opts.password)
	if err != nil {
		return err
	}
	a.store.SetSession(token.AccessToken)
	fmt.Printf("注册成功并已登录: %s\n", opts.username)
	return nil
}

func (a *app) me(ctx context.Context) error {
	user, err := a.api.Auth.Me(ctx)
	if err != nil {
		return err
	}
	a.store.SetUser(user)
	printJSON(user)
	return nil
}

func (a *app) submit(ctx context.Context, opts options) error {
	file, err := readFile(opts.file)
	if err != nil {
		return err
	}

	task, err := a.api.Tasks.Submit(ctx, file, opts.hotwordList)
	if err != nil {
		return err
	}
	if !opts.wait {
		printJSON(task)
		return nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !task.Done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if task, err = a.api.Tasks.Get(ctx, task.ID); err != nil {
			return err
		}
	}
	printJSON(task)
	return nil
}

func (a *app) task(ctx context.Context, opts options) error {
	task, err := a.api.Tasks.Get(ctx, opts.id)
	if err != nil {
		return err
	}
	printJSON(task)
	return nil
}

func (a *app) tasks(ctx context.Context, opts options) error {
	tasks, err := a.api.Tasks.List(ctx, opts.skip, opts.limit)
	if err != nil {
		return err
	}
	if !a.api.Tasks.ListingSupported() {
		fmt.Println("后端暂不支持任务列表")
		return nil
	}
	printJSON(tasks)
	return nil
}

func (a *app) hotwordAdd(ctx context.Context, opts options) error {
	weight := opts.weight
	if weight == 0 {
		weight = asr.DefaultHotwordWeight
	}
	hw, err := a.api.Hotwords.Create(ctx, opts.word, weight)
	if err != nil {
		return err
	}
	printJSON(hw)
	return nil
}

func (a *app) hotwordList(ctx context.Context, opts options) error {
	list, err := a.api.Hotwords.List(ctx, opts.skip, opts.limit)
	if err != nil {
		return err
	}
	printJSON(list)
	return nil
}

func (a *app) hotwordUpdate(ctx context.Context, opts options) error {
	var patch asr.HotwordPatch
	if strings.TrimSpace(opts.word) != "" {
		patch.Word = &opts.word
	}
	if opts.weight != 0 {
		patch.Weight = &opts.weight
	}
	hw, err := a.api.Hotwords.Update(ctx, opts.id, patch)
	if err != nil {
		return err
	}
	printJSON(hw)
	return nil
}

func (a *app) hotwordDelete(ctx context.Context, opts options) error {
	if err := a.api.Hotwords.Delete(ctx, opts.id); err != nil {
		return err
	}
	fmt.Printf("热词已删除: %s\n", opts.id)
	return nil
}

func (a *app) hotwordImport(ctx context.Context, opts options) error {
	file, err := readFile(opts.file)
	if err != nil {
		return err
	}
	summary, err := a.api.Hotwords.Import(ctx, file)
	if err != nil {
		return err
	}
	fmt.Printf("导入完成: 新增 %d 个，跳过 %d 个\n", summary.AddedCount, summary.SkippedCount)
	return nil
}
