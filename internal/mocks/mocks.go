// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Wait() config.WaitConfig {
	args := m.Called()
	return args.Get(0).(config.WaitConfig)
}

func (m *MockConfig) Typing() config.TypingConfig {
	args := m.Called()
	return args.Get(0).(config.TypingConfig)
}

func (m *MockConfig) Select() config.SelectConfig {
	args := m.Called()
	return args.Get(0).(config.SelectConfig)
}

func (m *MockConfig) Windows() config.WindowsConfig {
	args := m.Called()
	return args.Get(0).(config.WindowsConfig)
}

func (m *MockConfig) SetBrowserBackend(b string) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

// -- Driver Mock --

// MockDriver mocks driver.Driver.
type MockDriver struct {
	mock.Mock
}

var _ driver.Driver = (*MockDriver)(nil)

func (m *MockDriver) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	args := m.Called(ctx, xpath)
	els, _ := args.Get(0).([]driver.Element)
	return els, args.Error(1)
}

func (m *MockDriver) Navigate(ctx context.Context, url string, eager bool) error {
	return m.Called(ctx, url, eager).Error(0)
}

func (m *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) PageSource(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) ReadyState(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) ExecuteScript(ctx context.Context, script string, scriptArgs ...any) (any, error) {
	args := m.Called(ctx, script, scriptArgs)
	return args.Get(0), args.Error(1)
}

func (m *MockDriver) OpenWindow(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDriver) WindowHandles(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	handles, _ := args.Get(0).([]string)
	return handles, args.Error(1)
}

func (m *MockDriver) CurrentWindow(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) SwitchToWindow(ctx context.Context, handle string) error {
	return m.Called(ctx, handle).Error(0)
}

func (m *MockDriver) CloseWindow(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) SwitchToFrame(ctx context.Context, frame driver.Element) error {
	return m.Called(ctx, frame).Error(0)
}

func (m *MockDriver) SwitchToParentFrame(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) SwitchToDefaultContent(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) DeleteAllCookies(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) Quit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Element Mock --

// MockElement mocks driver.Element.
type MockElement struct {
	mock.Mock
}

var _ driver.Element = (*MockElement)(nil)

func (m *MockElement) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	args := m.Called(ctx, xpath)
	els, _ := args.Get(0).([]driver.Element)
	return els, args.Error(1)
}

func (m *MockElement) Click(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockElement) JSClick(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockElement) ScrollIntoView(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockElement) SendKeys(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockElement) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockElement) Value(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockElement) RemoveAttribute(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockElement) Text(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockElement) IsDisplayed(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockElement) IsEnabled(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockElement) IsSelected(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockElement) SelectByText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}
